package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-im/ghost/internal/hub"
	"github.com/nexus-im/ghost/internal/metrics"
	"github.com/nexus-im/ghost/store/conversation"
	"github.com/nexus-im/ghost/store/message"
	"github.com/nexus-im/ghost/store/notification"
)

// ErrClosed is returned by publishes after Close.
var ErrClosed = errors.New("fanout: engine closed")

// Relay carries deliveries between server instances.
type Relay interface {
	Publish(ctx context.Context, data []byte) error
	// Subscribe calls handle for every published payload until ctx ends.
	Subscribe(ctx context.Context, handle func([]byte)) error
}

// Config sizes the engine.
type Config struct {
	Lanes     int
	QueueSize int
	Relay     Relay
}

// Engine delivers events through a fixed set of ordered lanes. Events with
// the same ordering key always use the same lane, so they reach every
// connection in publish order.
type Engine struct {
	registry *hub.Registry
	relay    Relay
	logger   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	lanes  []chan delivery
	wg     sync.WaitGroup
}

// NewEngine starts the lane workers.
func NewEngine(registry *hub.Registry, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	e := &Engine{
		registry: registry,
		relay:    cfg.Relay,
		logger:   logger.With().Str("component", "fanout").Logger(),
		lanes:    make([]chan delivery, cfg.Lanes),
	}
	for i := range e.lanes {
		e.lanes[i] = make(chan delivery, cfg.QueueSize)
		e.wg.Add(1)
		go e.runLane(e.lanes[i])
	}
	return e
}

// Start consumes the relay, if any, until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	if e.relay == nil {
		return
	}
	go func() {
		for {
			err := e.relay.Subscribe(ctx, e.handleRelayed)
			if ctx.Err() != nil {
				return
			}
			e.logger.Error().Err(err).Msg("relay subscription ended, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
}

// PublishMessage sends a message event to every member of the conversation,
// the actor included so their other connections stay in sync.
func (e *Engine) PublishMessage(eventType string, convo *conversation.Conversation, actorID string, msg *message.Message) error {
	frame, err := Event{Type: eventType, Payload: msg}.Encode()
	if err != nil {
		return err
	}
	return e.enqueue(delivery{
		Key:        convo.ID,
		Type:       eventType,
		Recipients: []string{convo.Members[0], convo.Members[1]},
		Frame:      frame,
	})
}

// PublishNotification sends a notification to its recipient only.
func (e *Engine) PublishNotification(n *notification.Notification) error {
	frame, err := Event{Type: TypeNewNotification, Payload: n}.Encode()
	if err != nil {
		return err
	}
	return e.enqueue(delivery{
		Key:        n.RecipientID,
		Type:       TypeNewNotification,
		Recipients: []string{n.RecipientID},
		Frame:      frame,
	})
}

func (e *Engine) enqueue(d delivery) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}

	select {
	case e.lanes[e.laneFor(d.Key)] <- d:
	default:
		metrics.EventsDropped.WithLabelValues("lane_full").Inc()
		e.logger.Warn().Str("type", d.Type).Str("key", d.Key).Msg("fan-out lane full, event dropped")
	}
	return nil
}

func (e *Engine) laneFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(e.lanes)))
}

func (e *Engine) runLane(lane <-chan delivery) {
	defer e.wg.Done()
	for d := range lane {
		if e.relay != nil {
			if err := e.publishRelay(d); err == nil {
				continue
			}
		}
		e.deliverLocal(d)
	}
}

func (e *Engine) publishRelay(d delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.relay.Publish(ctx, data); err != nil {
		metrics.EventsDropped.WithLabelValues("relay").Inc()
		e.logger.Error().Err(err).Str("type", d.Type).Msg("relay publish failed, delivering locally")
		return err
	}
	return nil
}

func (e *Engine) handleRelayed(data []byte) {
	var d delivery
	if err := json.Unmarshal(data, &d); err != nil {
		e.logger.Warn().Err(err).Msg("malformed relay payload")
		return
	}
	e.deliverLocal(d)
}

func (e *Engine) deliverLocal(d delivery) {
	for _, userID := range d.Recipients {
		for _, conn := range e.registry.MembersOf(userID) {
			if conn.Send(d.Frame) {
				metrics.EventsDelivered.WithLabelValues(d.Type).Inc()
			} else {
				metrics.EventsDropped.WithLabelValues("conn_full").Inc()
			}
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, lane := range e.lanes {
		close(lane)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
