package redis

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// ConfigChannel carries connector configuration change notices between
// processes.
const ConfigChannel = "connector:config:changed"

const (
	resubscribeInitialWait = time.Second
	resubscribeMaxWait     = 30 * time.Second
)

// Publisher broadcasts configuration changes on the shared channel.
type Publisher struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

var _ ports.ConfigChangePublisher = (*Publisher)(nil)

// NewPublisher builds a publisher over rdb.
func NewPublisher(rdb redis.UniversalClient, logger *zap.Logger) *Publisher {
	return &Publisher{rdb: rdb, logger: logger}
}

// PublishConfigChange announces a connector config write. Failures are
// reported but non-fatal: the caches self-heal via TTL.
func (p *Publisher) PublishConfigChange(ctx context.Context, change ports.ConfigChange) error {
	raw, err := json.Marshal(change)
	if err != nil {
		return pkgerrors.NewInternalError("encode config change", err)
	}
	if err := p.rdb.Publish(ctx, ConfigChannel, raw).Err(); err != nil {
		p.logger.Warn("config change publish failed",
			zap.String("tenant_id", change.TenantID),
			zap.String("provider", change.Provider),
			zap.Error(err))
		return pkgerrors.NewDependencyError("redis", err)
	}
	return nil
}

// SubscriberHealth is the snapshot served by the cache health endpoint.
type SubscriberHealth struct {
	Connected     bool   `json:"connected"`
	LastMessageTS *int64 `json:"last_message_ts"`
	Reconnects    int64  `json:"reconnects"`
}

// Subscriber listens for configuration changes and hands valid ones to
// the handler. Malformed messages are counted and dropped; connection
// failures resubscribe with backoff. The loop never crashes the
// process.
type Subscriber struct {
	rdb     redis.UniversalClient
	handler func(ports.ConfigChange)
	logger  *zap.Logger
	metrics *observability.Collector

	mu          sync.Mutex
	connected   bool
	lastMessage time.Time
	reconnects  int64
}

// NewSubscriber builds a subscriber that invokes handler for every
// valid change notice.
func NewSubscriber(rdb redis.UniversalClient, handler func(ports.ConfigChange), logger *zap.Logger, metrics *observability.Collector) *Subscriber {
	return &Subscriber{rdb: rdb, handler: handler, logger: logger, metrics: metrics}
}

// Run blocks consuming the channel until ctx is canceled.
func (s *Subscriber) Run(ctx context.Context) {
	wait := resubscribeInitialWait
	for {
		connected, err := s.consume(ctx)
		if err == nil || ctx.Err() != nil {
			s.setConnected(false)
			s.metrics.ConnectorPubSubShutdown.Inc()
			s.logger.Info("config subscriber stopped")
			return
		}
		if connected {
			// The link was healthy before it broke; start the wait
			// ladder over.
			wait = resubscribeInitialWait
		}

		s.setConnected(false)
		s.metrics.ConnectorPubSubReconnect.Inc()
		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()
		s.logger.Warn("config subscriber reconnecting", zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			s.metrics.ConnectorPubSubShutdown.Inc()
			return
		case <-time.After(wait):
		}
		if wait *= 2; wait > resubscribeMaxWait {
			wait = resubscribeMaxWait
		}
	}
}

// consume runs one subscription until it fails or ctx ends. A nil
// error means a clean shutdown; connected reports whether SUBSCRIBE
// succeeded before the failure.
func (s *Subscriber) consume(ctx context.Context) (connected bool, err error) {
	sub := s.rdb.Subscribe(ctx, ConfigChannel)
	defer sub.Close()

	// Force the SUBSCRIBE round trip so connection failures surface
	// here instead of on the first receive.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	s.setConnected(true)
	s.logger.Info("config subscriber connected", zap.String("channel", ConfigChannel))

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}
		s.handleMessage(msg.Payload)
	}
}

func (s *Subscriber) handleMessage(payload string) {
	s.metrics.ConnectorPubSubMessages.Inc()
	s.mu.Lock()
	s.lastMessage = time.Now()
	s.mu.Unlock()

	var change ports.ConfigChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		s.metrics.ConnectorPubSubInvalid.WithLabelValues("bad_json").Inc()
		s.logger.Warn("dropping undecodable config change", zap.Error(err))
		return
	}
	if change.TenantID == "" || change.Provider == "" {
		s.metrics.ConnectorPubSubInvalid.WithLabelValues("missing_field").Inc()
		s.logger.Warn("dropping config change with missing fields")
		return
	}
	if change.Operation != ports.ConfigOpUpsert && change.Operation != ports.ConfigOpDelete {
		s.metrics.ConnectorPubSubInvalid.WithLabelValues("bad_operation").Inc()
		s.logger.Warn("dropping config change with unknown operation",
			zap.String("operation", change.Operation))
		return
	}

	s.handler(change)
}

// Health reports the subscriber state for the admin endpoint.
func (s *Subscriber) Health() SubscriberHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := SubscriberHealth{Connected: s.connected, Reconnects: s.reconnects}
	if !s.lastMessage.IsZero() {
		ts := s.lastMessage.Unix()
		h.LastMessageTS = &ts
	}
	return h
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
