package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
)

const (
	// DefaultListenAddr keeps the server off the privileged port
	DefaultListenAddr = "127.0.0.1:8600"

	// DefaultDomain is the zone relay answers for
	DefaultDomain = "relay"

	// DefaultTTL is short because health changes quickly
	DefaultTTL = 5 * time.Second
)

// Config holds DNS server configuration
type Config struct {
	Address string
	Domain  string
	TTL     time.Duration
	// Upstream receives queries outside Domain. Empty means refuse them.
	Upstream []string
}

// Server answers DNS queries for registered instances over UDP
type Server struct {
	resolver *Resolver
	address  string
	upstream []string
	forward  *dns.Client

	mu      sync.Mutex
	srv     *dns.Server
	conn    net.PacketConn
	running bool

	logger zerolog.Logger
}

// NewServer creates a DNS server reading from src
func NewServer(src Source, cfg Config) *Server {
	if cfg.Address == "" {
		cfg.Address = DefaultListenAddr
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Server{
		resolver: NewResolver(src, cfg.Domain, cfg.TTL),
		address:  cfg.Address,
		upstream: cfg.Upstream,
		forward:  &dns.Client{Net: "udp", Timeout: 2 * time.Second},
		logger:   log.WithComponent("dns"),
	}
}

// Start binds the UDP socket and serves until Stop
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("DNS server already running")
	}

	conn, err := net.ListenPacket("udp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        conn,
		Handler:           s,
		NotifyStartedFunc: func() { close(started) },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ActivateAndServe(); err != nil {
			s.logger.Error().Err(err).Msg("DNS server error")
			errCh <- err
		}
	}()

	select {
	case <-started:
	case err := <-errCh:
		conn.Close()
		return err
	}

	s.srv = srv
	s.conn = conn
	s.running = true
	s.logger.Info().
		Str("address", conn.LocalAddr().String()).
		Str("domain", s.resolver.Domain()).
		Msg("DNS server started")
	return nil
}

// Addr returns the bound address, empty before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.LocalAddr().String()
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	if err := s.srv.ShutdownContext(ctx); err != nil {
		return fmt.Errorf("failed to stop DNS server: %w", err)
	}
	s.logger.Info().Msg("DNS server stopped")
	return nil
}

// IsRunning returns true if the DNS server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ServeDNS implements dns.Handler
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)

	if len(r.Question) != 1 {
		msg.Rcode = dns.RcodeFormatError
		s.write(w, r, msg)
		return
	}
	q := r.Question[0]

	ans, err := s.resolver.Resolve(q)
	switch {
	case errors.Is(err, ErrOutsideDomain):
		if len(s.upstream) > 0 {
			s.forwardQuery(w, r)
			return
		}
		msg.Rcode = dns.RcodeRefused
	case errors.Is(err, ErrNotFound):
		msg.Authoritative = true
		msg.Rcode = dns.RcodeNameError
	case err != nil:
		msg.Rcode = dns.RcodeServerFailure
	default:
		msg.Authoritative = true
		msg.Answer = ans.Records
		msg.Extra = ans.Extra
	}

	s.logger.Debug().
		Str("query", q.Name).
		Str("type", dns.TypeToString[q.Qtype]).
		Int("answers", len(msg.Answer)).
		Str("rcode", dns.RcodeToString[msg.Rcode]).
		Msg("DNS query")
	s.write(w, r, msg)
}

func (s *Server) write(w dns.ResponseWriter, req, msg *dns.Msg) {
	size := dns.MinMsgSize
	if opt := req.IsEdns0(); opt != nil {
		size = int(opt.UDPSize())
	}
	msg.Truncate(size)

	metrics.DNSQueriesTotal.WithLabelValues(dns.RcodeToString[msg.Rcode]).Inc()
	if err := w.WriteMsg(msg); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write DNS response")
	}
}

// forwardQuery relays a query outside the domain to the first upstream
// that answers
func (s *Server) forwardQuery(w dns.ResponseWriter, r *dns.Msg) {
	for _, upstream := range s.upstream {
		resp, _, err := s.forward.Exchange(r, upstream)
		if err != nil {
			s.logger.Debug().Err(err).Str("upstream", upstream).Msg("Upstream query failed")
			continue
		}
		metrics.DNSQueriesTotal.WithLabelValues("FORWARDED").Inc()
		if err := w.WriteMsg(resp); err != nil {
			s.logger.Error().Err(err).Msg("Failed to write forwarded DNS response")
		}
		return
	}

	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Rcode = dns.RcodeServerFailure
	s.write(w, r, msg)
}
