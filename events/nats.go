package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tiagofranzen/pi-traffic-light/errors"
)

// NATSConfig configures the optional NATS event publisher. An empty URL
// disables publishing entirely.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	ClientName    string `yaml:"client_name"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
}

// DefaultNATSConfig returns disabled publishing with sane connection options
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		SubjectPrefix:  "traffic",
		ClientName:     "pi-traffic-light",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
	}
}

// NATSPublisher forwards bus events to NATS subjects, one subject per event
// type under the configured prefix: traffic.signal.transition and
// traffic.mode.switch with the defaults.
type NATSPublisher struct {
	cfg    NATSConfig
	bus    *Bus
	logger *slog.Logger

	conn *nats.Conn

	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewNATSPublisher creates a publisher over the given bus
func NewNATSPublisher(cfg NATSConfig, bus *Bus, logger *slog.Logger) (*NATSPublisher, error) {
	if bus == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("bus is required"),
			"events.NATSPublisher", "NewNATSPublisher", "dependency validation")
	}
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("nats url is required"),
			"events.NATSPublisher", "NewNATSPublisher", "config validation")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "traffic"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{
		cfg:    cfg,
		bus:    bus,
		logger: logger.With("component", "nats-publisher"),
	}, nil
}

// Start connects to NATS and begins forwarding bus events
func (p *NATSPublisher) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"events.NATSPublisher", "Start", "state check")
	}

	opts := []nats.Option{
		nats.Name(p.cfg.ClientName),
		nats.Timeout(p.cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(p.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(p.cfg.URL, opts...)
	if err != nil {
		return errors.WrapTransient(err, "events.NATSPublisher", "Start", "nats connect")
	}
	p.conn = conn

	p.shutdown = make(chan struct{})
	p.done = make(chan struct{})
	p.running.Store(true)

	sub, cancel := p.bus.Subscribe()
	p.wg.Add(1)
	go p.forward(sub, cancel)

	p.logger.Info("nats publisher started", "url", p.cfg.URL, "prefix", p.cfg.SubjectPrefix)
	return nil
}

// forward drains the bus subscription into NATS
func (p *NATSPublisher) forward(sub <-chan Event, cancel func()) {
	defer p.wg.Done()
	defer close(p.done)
	defer cancel()

	for {
		select {
		case <-p.shutdown:
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := p.publish(e); err != nil {
				p.logger.Warn("event publish failed", "event", e.Type, "error", err)
			}
		}
	}
}

// publish marshals one event onto its subject
func (p *NATSPublisher) publish(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInvalid(err, "events.NATSPublisher", "publish", "event marshal")
	}
	subject := fmt.Sprintf("%s.%s", p.cfg.SubjectPrefix, e.Type)
	if err := p.conn.Publish(subject, payload); err != nil {
		return errors.WrapTransient(err, "events.NATSPublisher", "publish", "nats publish")
	}
	return nil
}

// Stop drains the subscription and closes the connection
func (p *NATSPublisher) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)
	close(p.shutdown)

	select {
	case <-p.done:
	case <-time.After(timeout):
		p.logger.Warn("nats publisher stop timed out")
	}

	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.logger.Warn("nats drain failed", "error", err)
			p.conn.Close()
		}
		p.conn = nil
	}
	p.logger.Info("nats publisher stopped")
	return nil
}
