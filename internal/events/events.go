// Package events implements the process-wide job queue (C1): a best-effort,
// in-process multi-producer/multi-consumer bus carrying the closed set of
// event variants the core produces and consumes. Delivery is not persisted;
// every consumer is expected to be idempotent over replays (§5).
package events

import (
	"sync"

	"go.uber.org/zap"
)

// Kind discriminates the event variant: a tagged union of payload structs
// keyed by this discriminator field.
type Kind string

const (
	KindGitPush            Kind = "git_push"
	KindProjectCreated     Kind = "project_created"
	KindProjectDeleted     Kind = "project_deleted"
	KindEnvironmentCreated Kind = "environment_created"
	KindEnvironmentDeleted Kind = "environment_deleted"
	KindDeploymentCreated  Kind = "deployment_created"
	KindDeploymentCompleted Kind = "deployment_completed"
)

// GitPushPayload is the normalized webhook ingestion shape (§6).
type GitPushPayload struct {
	Owner     string
	Repo      string
	Branch    string
	Tag       string
	Commit    string
	ProjectID string
}

// DeploymentPayload carries identity for deployment-lifecycle events.
type DeploymentPayload struct {
	DeploymentID  string
	ProjectID     string
	EnvironmentID string
}

// EnvironmentPayload carries identity for environment-lifecycle events.
type EnvironmentPayload struct {
	EnvironmentID string
	ProjectID     string
}

// ProjectPayload carries identity for project-lifecycle events.
type ProjectPayload struct {
	ProjectID string
}

// Event is the envelope delivered to subscribers. Exactly one payload field
// is populated, selected by Kind.
type Event struct {
	Kind Kind

	GitPush     *GitPushPayload
	Deployment  *DeploymentPayload
	Environment *EnvironmentPayload
	Project     *ProjectPayload
}

// bufferSize bounds the per-subscriber channel; beyond it the bus drops the
// oldest pending event for that subscriber rather than blocking the
// producer, per §4.1 — every event is rebuildable from the store.
const bufferSize = 256

// Subscription is an independent event stream for one consumer.
type Subscription struct {
	ch      chan Event
	lag     *int64
	bus     *Bus
	closeCh chan struct{}
	once    sync.Once
}

// Events returns the channel new events arrive on.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
		close(s.closeCh)
	})
}

// Bus is a single process-wide fan-out point for all event producers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger *zap.Logger
}

// New constructs an empty Bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{subs: make(map[*Subscription]struct{}), logger: logger}
}

// Subscribe registers a new independent stream of events.
func (b *Bus) Subscribe() *Subscription {
	lag := int64(0)
	sub := &Subscription{ch: make(chan Event, bufferSize), lag: &lag, bus: b, closeCh: make(chan struct{})}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Publish delivers an event to every current subscriber. A subscriber whose
// buffer is full has its oldest pending event dropped to make room — the bus
// never blocks the producer on a lagging consumer.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
				b.logger.Warn("events: subscriber lagged, dropped oldest event", zap.String("kind", string(ev.Kind)))
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				b.logger.Warn("events: subscriber buffer still full after drop, discarding event", zap.String("kind", string(ev.Kind)))
			}
		}
	}
}
