package dns

import (
	"context"
	"fmt"
	"sync"
	"time"

	"duskhole/pkg/logging"
	"duskhole/pkg/telemetry"

	"github.com/miekg/dns"
)

// DefaultDrainTimeout bounds how long graceful shutdown waits for in-flight
// queries to finish before forcing the listeners closed.
const DefaultDrainTimeout = 5 * time.Second

// Server runs the UDP and TCP DNS listeners against a shared Handler.
type Server struct {
	addr      string
	handler   *Handler
	logger    *logging.Logger
	metrics   *telemetry.Metrics
	udpServer *dns.Server
	tcpServer *dns.Server
	running   bool
	mu        sync.RWMutex
}

// NewServer creates a new DNS server listening on addr ("host:port").
func NewServer(addr string, handler *Handler, logger *logging.Logger, metrics *telemetry.Metrics) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

// Start starts the DNS server (UDP and TCP) and blocks until ctx is
// cancelled or a listener fails. Callers must publish an initial blocklist
// snapshot to the handler's Registry before calling Start, so the first
// query a client sends is served against real data rather than the empty
// snapshot.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	wrapped := &wrappedHandler{handler: s.handler, logger: s.logger, metrics: s.metrics}

	errChan := make(chan error, 2)

	s.udpServer = &dns.Server{
		Addr:    s.addr,
		Net:     "udp",
		Handler: dns.HandlerFunc(wrapped.serveDNS),
	}
	go func() {
		s.logger.Info("starting UDP DNS server", "address", s.addr)
		if err := s.udpServer.ListenAndServe(); err != nil {
			errChan <- fmt.Errorf("UDP server failed: %w", err)
		}
	}()

	s.tcpServer = &dns.Server{
		Addr:    s.addr,
		Net:     "tcp",
		Handler: dns.HandlerFunc(wrapped.serveDNS),
	}
	go func() {
		s.logger.Info("starting TCP DNS server", "address", s.addr)
		if err := s.tcpServer.ListenAndServe(); err != nil {
			errChan <- fmt.Errorf("TCP server failed: %w", err)
		}
	}()

	s.logger.Info("DNS server started", "address", s.addr)

	select {
	case <-ctx.Done():
		s.logger.Info("DNS server shutting down")
		drainCtx, cancel := context.WithTimeout(context.Background(), DefaultDrainTimeout)
		defer cancel()
		return s.Shutdown(drainCtx)
	case err := <-errChan:
		s.logger.Error("DNS server error", "error", err)
		return err
	}
}

// Shutdown gracefully shuts down the DNS server, waiting up to ctx's
// deadline for in-flight queries to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	var errs []error

	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("UDP shutdown: %w", err))
		}
	}

	if s.tcpServer != nil {
		if err := s.tcpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("TCP shutdown: %w", err))
		}
	}

	s.running = false

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	s.logger.Info("DNS server shut down successfully")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// wrappedHandler wraps the DNS handler with logging and metrics.
type wrappedHandler struct {
	handler *Handler
	logger  *logging.Logger
	metrics *telemetry.Metrics
}

func (w *wrappedHandler) serveDNS(rw dns.ResponseWriter, r *dns.Msg) {
	startTime := time.Now()
	ctx := context.Background()

	var domain string
	var qtype uint16
	if len(r.Question) > 0 {
		domain = r.Question[0].Name
		qtype = r.Question[0].Qtype
	}

	clientIP := getClientIP(rw)

	w.logger.Debug("DNS query received", "domain", domain, "type", dns.TypeToString[qtype], "client", clientIP)

	w.handler.ServeDNS(ctx, rw, r)

	duration := time.Since(startTime)
	if w.metrics != nil {
		w.metrics.DNSQueryDuration.Record(ctx, float64(duration.Milliseconds()))
	}

	w.logger.Debug("DNS query processed", "domain", domain, "duration_ms", duration.Milliseconds())
}
