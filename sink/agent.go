package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/lcx/emflog/log"
)

const (
	// _deadlineRefreshInterval throttles SetWriteDeadline; re-arming on
	// every send costs a syscall.
	_deadlineRefreshInterval = 5 * time.Second

	_defaultAgentEndpoint = "tcp://127.0.0.1:25888"

	_dialTimeout    = 5 * time.Second
	_minDialBackoff = 100 * time.Millisecond
	_maxDialBackoff = 5 * time.Second
)

// AgentSinkCfg configures an AgentSink.
type AgentSinkCfg struct {
	Tag string `mapstructure:"tag"`

	// Endpoint is the agent address as a URL, tcp://host:port or
	// udp://host:port. Unset selects tcp://127.0.0.1:25888.
	Endpoint string `mapstructure:"endpoint"`

	SendChannelSize int `mapstructure:"sendChannelSize"`
	WriteTimeoutSec int `mapstructure:"writeTimeoutSec"`

	// PacePerSec spaces writes to the socket evenly; 0 disables pacing.
	PacePerSec int `mapstructure:"pacePerSec"`

	// MaxBatchesPerSec rejects Accept calls beyond this rate; 0 disables
	// the guard. Burst defaults to MaxBatchesPerSec.
	MaxBatchesPerSec int `mapstructure:"maxBatchesPerSec"`
	Burst            int `mapstructure:"burst"`
}

// GetName returns the configuration name for AgentSinkCfg.
func (c *AgentSinkCfg) GetName() string {
	return "agent_sink"
}

// Validate normalizes defaults and rejects endpoints the sink cannot dial.
func (c *AgentSinkCfg) Validate() error {
	if c.Endpoint == "" {
		c.Endpoint = _defaultAgentEndpoint
	}
	if c.SendChannelSize <= 0 {
		c.SendChannelSize = 1024
	}
	if c.WriteTimeoutSec <= 0 {
		c.WriteTimeoutSec = 30
	}
	if _, _, err := parseAgentEndpoint(c.Endpoint); err != nil {
		return err
	}
	return nil
}

// parseAgentEndpoint splits a tcp:// or udp:// URL into network and
// address.
func parseAgentEndpoint(endpoint string) (network, address string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", fmt.Errorf("parse agent endpoint: %w", err)
	}
	switch u.Scheme {
	case "tcp", "udp":
	default:
		return "", "", fmt.Errorf("unsupported agent endpoint scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("agent endpoint missing host: %q", endpoint)
	}
	return u.Scheme, u.Host, nil
}

// AgentSink ships documents to a CloudWatch agent over TCP or UDP. Accept
// only queues; a dedicated goroutine owns the connection and reconnects
// with backoff when the agent goes away. Documents that cannot be
// delivered after a reconnect are dropped: metric delivery must never
// wedge the application.
type AgentSink struct {
	cfg *AgentSinkCfg

	network string
	address string

	// Connection state, owned by the send goroutine.
	conn          net.Conn
	lastWriteTime time.Time
	dialBackoff   time.Duration

	sendCh  chan string
	ntfChan chan chan struct{}

	funnel *FunnelLimiter
	events *EventLimiter

	ctx        context.Context
	cancel     context.CancelFunc
	senderDone chan struct{}

	stateMu sync.RWMutex
	closed  bool
}

// NewAgentSink validates cfg and starts the send goroutine. The connection
// is dialed lazily on first send.
func NewAgentSink(cfg *AgentSinkCfg) (*AgentSink, error) {
	if cfg == nil {
		cfg = &AgentSinkCfg{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	network, address, err := parseAgentEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &AgentSink{
		cfg:        cfg,
		network:    network,
		address:    address,
		sendCh:     make(chan string, cfg.SendChannelSize),
		ntfChan:    make(chan chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		senderDone: make(chan struct{}),
	}
	if cfg.PacePerSec > 0 {
		s.funnel = NewFunnelLimiter(cfg.PacePerSec)
	}
	if cfg.MaxBatchesPerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.MaxBatchesPerSec
		}
		s.events = NewEventLimiter(cfg.MaxBatchesPerSec, burst)
	}

	go s.serveSend()
	return s, nil
}

// Name implements Sink.
func (s *AgentSink) Name() string { return "agent" }

// FactoryName implements plugin.Plugin.
func (s *AgentSink) FactoryName() string { return "agent" }

// Accept queues the events for delivery. It rejects the whole batch when
// the rate guard trips or the queue is full rather than blocking the
// caller.
func (s *AgentSink) Accept(events []string) error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.closed {
		return errors.New("agent sink is closed")
	}

	if s.events != nil && !s.events.Allow() {
		return errors.New("agent sink over rate limit")
	}

	for _, ev := range events {
		select {
		case s.sendCh <- ev:
		default:
			return errors.New("send channel is full")
		}
	}
	return nil
}

// Refresh blocks until every document queued so far was handed to the
// socket or dropped after retries.
func (s *AgentSink) Refresh() error {
	s.stateMu.RLock()
	if s.closed {
		s.stateMu.RUnlock()
		return nil
	}
	done := make(chan struct{})
	s.ntfChan <- done
	s.stateMu.RUnlock()

	<-done
	return nil
}

// Close drains the queue, stops the sender and closes the connection.
func (s *AgentSink) Close() error {
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return nil
	}
	s.closed = true
	s.stateMu.Unlock()

	s.cancel()
	<-s.senderDone
	return nil
}

// reloadLimits applies a new configuration when only the rates changed.
// Anything else needs a rebuild, signalled by the returned error.
func (s *AgentSink) reloadLimits(cfg *AgentSinkCfg) error {
	if cfg.Endpoint != s.cfg.Endpoint ||
		cfg.SendChannelSize != s.cfg.SendChannelSize ||
		cfg.WriteTimeoutSec != s.cfg.WriteTimeoutSec {
		return errors.New("agent sink reload requires rebuild")
	}
	if (cfg.PacePerSec > 0) != (s.cfg.PacePerSec > 0) ||
		(cfg.MaxBatchesPerSec > 0) != (s.cfg.MaxBatchesPerSec > 0) {
		return errors.New("agent sink reload requires rebuild")
	}

	if s.funnel != nil && cfg.PacePerSec != s.cfg.PacePerSec {
		s.funnel.Reload(cfg.PacePerSec)
		s.cfg.PacePerSec = cfg.PacePerSec
	}
	if s.events != nil {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.MaxBatchesPerSec
		}
		s.events.Reload(cfg.MaxBatchesPerSec, burst)
		s.cfg.MaxBatchesPerSec = cfg.MaxBatchesPerSec
		s.cfg.Burst = cfg.Burst
	}
	return nil
}

func (s *AgentSink) serveSend() {
	defer close(s.senderDone)

	for {
		select {
		case <-s.ctx.Done():
			s.drain()
			s.closeConn()
			return
		case done := <-s.ntfChan:
			s.drain()
			close(done)
		case ev := <-s.sendCh:
			s.deliver(ev)
		}
	}
}

// drain empties the queue without waiting for new events.
func (s *AgentSink) drain() {
	for {
		select {
		case ev := <-s.sendCh:
			s.deliver(ev)
		default:
			return
		}
	}
}

// deliver writes one document, reconnecting once on a broken connection.
// TCP framing is newline-delimited; UDP sends one datagram per document.
func (s *AgentSink) deliver(ev string) {
	if s.funnel != nil {
		s.funnel.Take()
	}

	payload := make([]byte, 0, len(ev)+1)
	payload = append(payload, ev...)
	if s.network == "tcp" {
		payload = append(payload, '\n')
	}

	for attempt := 0; attempt < 2; attempt++ {
		conn, err := s.ensureConn()
		if err != nil {
			log.Error().Err(err).Str("endpoint", s.cfg.Endpoint).Msg("agent sink dial failed")
			continue
		}

		s.setWriteDeadline(conn)
		if _, err := conn.Write(payload); err != nil {
			log.Error().Err(err).Msg("agent sink write failed")
			s.closeConn()
			continue
		}
		return
	}

	log.Error().Str("endpoint", s.cfg.Endpoint).Msg("agent sink dropping document")
}

// ensureConn returns the live connection, dialing when there is none.
// Failed dials back off exponentially up to _maxDialBackoff.
func (s *AgentSink) ensureConn() (net.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}

	if s.dialBackoff > 0 {
		time.Sleep(s.dialBackoff)
	}

	conn, err := net.DialTimeout(s.network, s.address, _dialTimeout)
	if err != nil {
		switch {
		case s.dialBackoff == 0:
			s.dialBackoff = _minDialBackoff
		case s.dialBackoff < _maxDialBackoff:
			s.dialBackoff *= 2
			if s.dialBackoff > _maxDialBackoff {
				s.dialBackoff = _maxDialBackoff
			}
		}
		return nil, err
	}

	s.dialBackoff = 0
	s.conn = conn
	s.lastWriteTime = time.Time{}
	return conn, nil
}

func (s *AgentSink) closeConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// setWriteDeadline re-arms the write deadline at most every
// _deadlineRefreshInterval.
func (s *AgentSink) setWriteDeadline(conn net.Conn) {
	if s.cfg.WriteTimeoutSec <= 0 {
		return
	}
	n := time.Now()
	if n.Sub(s.lastWriteTime) > _deadlineRefreshInterval {
		s.lastWriteTime = n
		_ = conn.SetWriteDeadline(n.Add(time.Duration(s.cfg.WriteTimeoutSec) * time.Second))
	}
}
