package forwarder

import (
	"context"
	"net"
	"testing"
	"time"

	"duskhole/pkg/logging"

	"github.com/miekg/dns"
)

// udpStub runs a minimal UDP DNS server that answers every query the same
// way: SERVFAIL, drop (no response), or a fixed NOERROR answer.
type udpStub struct {
	addr string
	stop func()
}

func startStub(t *testing.T, handle func(req *dns.Msg) *dns.Msg) *udpStub {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1024)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				close(done)
				return
			}
			req := new(dns.Msg)
			if err := req.Unpack(buf[:n]); err != nil {
				continue
			}
			resp := handle(req)
			if resp == nil {
				continue // simulate a silent drop
			}
			out, err := resp.Pack()
			if err != nil {
				continue
			}
			_, _ = pc.WriteTo(out, addr)
		}
	}()

	return &udpStub{
		addr: pc.LocalAddr().String(),
		stop: func() { _ = pc.Close(); <-done },
	}
}

func query(name string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	return m
}

func TestForward_FirstUpstreamServfail_SecondAnswers(t *testing.T) {
	servfail := startStub(t, func(req *dns.Msg) *dns.Msg {
		resp := new(dns.Msg)
		resp.SetRcode(req, dns.RcodeServerFailure)
		return resp
	})
	defer servfail.stop()

	ok := startStub(t, func(req *dns.Msg) *dns.Msg {
		resp := new(dns.Msg)
		resp.SetReply(req)
		resp.Rcode = dns.RcodeSuccess
		return resp
	})
	defer ok.stop()

	f := New([]string{servfail.addr, ok.addr}, logging.NewDefault(), 2*time.Second, 5*time.Second)
	resp, err := f.Forward(context.Background(), query("example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		t.Errorf("expected the second upstream's NOERROR answer after the first answered SERVFAIL, got rcode %d", resp.Rcode)
	}
}

func TestForward_TimeoutAdvancesToNextUpstream(t *testing.T) {
	// Upstream that never responds (simulated by an address nothing listens on).
	dead := "127.0.0.1:1"

	ok := startStub(t, func(req *dns.Msg) *dns.Msg {
		resp := new(dns.Msg)
		resp.SetReply(req)
		return resp
	})
	defer ok.stop()

	f := New([]string{dead, ok.addr}, logging.NewDefault(), 300*time.Millisecond, 5*time.Second)
	resp, err := f.Forward(context.Background(), query("example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		t.Errorf("expected the healthy second upstream's answer, got rcode %d", resp.Rcode)
	}
}

func TestForward_AllUpstreamsFailReturnsErrorWithinTotalTimeout(t *testing.T) {
	dead1 := "127.0.0.1:1"
	dead2 := "127.0.0.1:2"

	f := New([]string{dead1, dead2}, logging.NewDefault(), 200*time.Millisecond, 1*time.Second)

	start := time.Now()
	_, err := f.Forward(context.Background(), query("example.com"))
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected an error when all upstreams fail")
	}
	if elapsed > 1500*time.Millisecond {
		t.Errorf("forward took %v, expected to respect the ~1s total timeout", elapsed)
	}
}

func TestForward_OrderedNotRoundRobin(t *testing.T) {
	var hits []string
	first := startStub(t, func(req *dns.Msg) *dns.Msg {
		hits = append(hits, "first")
		resp := new(dns.Msg)
		resp.SetReply(req)
		return resp
	})
	defer first.stop()

	f := New([]string{first.addr}, logging.NewDefault(), 2*time.Second, 5*time.Second)
	for i := 0; i < 3; i++ {
		if _, err := f.Forward(context.Background(), query("example.com")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits on the only configured upstream, got %d", len(hits))
	}
}

func TestForward_NoUpstreamsConfigured(t *testing.T) {
	f := New(nil, logging.NewDefault(), time.Second, time.Second)
	if _, err := f.Forward(context.Background(), query("example.com")); err != ErrNoUpstreams {
		t.Errorf("expected ErrNoUpstreams, got %v", err)
	}
}

func TestHealth_RecordsWithoutAlteringForwardOrder(t *testing.T) {
	bad := "127.0.0.1:1"
	ok := startStub(t, func(req *dns.Msg) *dns.Msg {
		resp := new(dns.Msg)
		resp.SetReply(req)
		return resp
	})
	defer ok.stop()

	f := New([]string{bad, ok.addr}, logging.NewDefault(), 200*time.Millisecond, 2*time.Second)
	if _, err := f.Forward(context.Background(), query("example.com")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snaps := f.Health().Snapshots(f.Upstreams())
	if len(snaps) != 2 {
		t.Fatalf("expected telemetry for both upstreams, got %d", len(snaps))
	}
	if snaps[0].Upstream != bad || snaps[0].Failures == 0 {
		t.Errorf("expected the first (failing) upstream to show a recorded failure: %+v", snaps[0])
	}

	// A second round still tries bad first — Health never reorders.
	if _, err := f.Forward(context.Background(), query("example.com")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snaps = f.Health().Snapshots(f.Upstreams())
	if snaps[0].Failures < 2 {
		t.Errorf("expected the failing upstream to still be tried first and accrue another failure, got %+v", snaps[0])
	}
}
