package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event is one job or extraction state transition, published to the
// subject's topic for live dashboards. Delivery is best-effort; the job
// store remains the source of truth.
type Event struct {
	EntityID   string    `json:"entity_id"`
	EntityType string    `json:"entity_type"` // "job" or "document"
	SubjectID  string    `json:"subject_id"`
	OldStatus  string    `json:"old_status"`
	NewStatus  string    `json:"new_status"`
	Timestamp  time.Time `json:"timestamp"`
	Detail     string    `json:"detail,omitempty"`
}

// Broadcaster fans out state transitions to per-subject topics.
type Broadcaster interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel of events for one subject and a cancel
	// function that must be called when the observer goes away.
	Subscribe(ctx context.Context, subjectID string) (<-chan Event, func(), error)
}

const channelPrefix = "pipeline:status:"

type redisBroadcaster struct {
	client *redis.Client
	logger *zap.Logger
}

func (b *redisBroadcaster) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelPrefix+event.SubjectID, payload).Err()
}

func (b *redisBroadcaster) Subscribe(ctx context.Context, subjectID string) (<-chan Event, func(), error) {
	sub := b.client.Subscribe(ctx, channelPrefix+subjectID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("Dropping malformed broadcast payload", zap.Error(err))
				continue
			}
			select {
			case out <- event:
			default:
				// Slow observer; best-effort channel, drop instead of block.
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

type memoryBroadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
}

func newMemoryBroadcaster() *memoryBroadcaster {
	return &memoryBroadcaster{subs: make(map[string]map[int]chan Event)}
}

func (b *memoryBroadcaster) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[event.SubjectID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *memoryBroadcaster) Subscribe(_ context.Context, subjectID string) (<-chan Event, func(), error) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[subjectID] == nil {
		b.subs[subjectID] = make(map[int]chan Event)
	}
	b.subs[subjectID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs, ok := b.subs[subjectID]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.subs, subjectID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel, nil
}

// New builds a Redis-backed broadcaster and falls back to in-memory fan-out
// when Redis is unreachable or unconfigured.
func New(addr, pass string, db int, logger *zap.Logger) (Broadcaster, error) {
	if addr == "" {
		return newMemoryBroadcaster(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return newMemoryBroadcaster(), err
	}

	return &redisBroadcaster{client: client, logger: logger}, nil
}

// NewMemory returns the in-memory implementation directly, for tests and
// single-process deployments.
func NewMemory() Broadcaster {
	return newMemoryBroadcaster()
}
