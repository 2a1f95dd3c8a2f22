package dns

import "net"

var (
	net4Zero = net.IPv4(0, 0, 0, 0).To4()
	net6Zero = net.IPv6zero
)
