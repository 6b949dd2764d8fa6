// Package events routes domain events to background handlers through a
// queue broker. Enqueue failures are retried once and then logged; they
// never surface to the caller's request.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

// Event types routed through the system.
const (
	TypeStoreCompletion   = "store_completion"
	TypeUserConnected     = "user_connected"
	TypeCompletionRequest = "completion_request"
)

// Event is one routed occurrence. Payload is the JSON encoding of the
// type-specific payload struct.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	TenantUID string          `json:"tenant_uid,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with a fresh id and an encoded payload.
func NewEvent(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: models.NewID(), Type: eventType, Payload: raw}, nil
}

// StoreCompletionPayload carries the completion to persist.
type StoreCompletionPayload struct {
	Completion models.AgentCompletion `json:"completion"`
}

// UserConnectedPayload records a user session start for attribution.
type UserConnectedPayload struct {
	UserID string `json:"user_id,omitempty"`
	OrgID  string `json:"org_id,omitempty"`
}

// CompletionRequestPayload asks for one experiment completion to run.
type CompletionRequestPayload struct {
	ExperimentID string `json:"experiment_id"`
	AgentID      string `json:"agent_id"`
	VersionID    string `json:"version_id"`
	InputID      string `json:"input_id"`
}

// Handler runs one background job for an event.
type Handler struct {
	Name string
	Run  func(ctx context.Context, event Event) error
}

// job is the queue envelope: one handler invocation for one event.
type job struct {
	Handler string `json:"handler"`
	Event   Event  `json:"event"`
}

// Router dispatches events to registered handlers via the broker and runs
// the consuming workers.
type Router struct {
	broker Broker
	log    *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	byName   map[string]Handler

	// tasks holds in-flight background work, including delayed enqueues,
	// so Shutdown can drain it.
	tasks sync.WaitGroup
}

// NewRouter creates a router on the given broker.
func NewRouter(broker Broker, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		broker:   broker,
		log:      log.With("component", "events"),
		handlers: map[string][]Handler{},
		byName:   map[string]Handler{},
	}
}

// Register binds a handler to an event type. Several handlers may share a
// type; each gets its own queued job.
func (r *Router) Register(eventType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], handler)
	r.byName[handler.Name] = handler
}

// Route schedules every handler registered for the event. Failures are
// retried once and then logged; Route never fails the caller.
func (r *Router) Route(ctx context.Context, event Event, delay time.Duration) {
	r.mu.RLock()
	handlers := r.handlers[event.Type]
	r.mu.RUnlock()
	if len(handlers) == 0 {
		r.log.Debug("no handlers for event", "type", event.Type)
		return
	}
	for _, handler := range handlers {
		payload, err := json.Marshal(job{Handler: handler.Name, Event: event})
		if err != nil {
			r.log.Error("encoding event job", "type", event.Type, "handler", handler.Name, "error", err)
			continue
		}
		if delay > 0 {
			r.enqueueLater(payload, event.Type, handler.Name, delay)
			continue
		}
		r.enqueue(ctx, payload, event.Type, handler.Name)
	}
}

func (r *Router) enqueue(ctx context.Context, payload []byte, eventType, handler string) {
	err := r.broker.Enqueue(ctx, payload)
	if err == nil {
		return
	}
	if err = r.broker.Enqueue(ctx, payload); err != nil {
		r.log.Error("event lost after enqueue retry",
			"type", eventType, "handler", handler, "error", err)
	}
}

func (r *Router) enqueueLater(payload []byte, eventType, handler string, delay time.Duration) {
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		time.Sleep(delay)
		r.enqueue(context.Background(), payload, eventType, handler)
	}()
}

// Run consumes jobs until the context is cancelled. Each job runs in its
// own goroutine tracked by the task set.
func (r *Router) Run(ctx context.Context) error {
	for {
		payload, err := r.broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn("dequeue failed", "error", err)
			continue
		}
		if payload == nil {
			continue
		}
		r.tasks.Add(1)
		go func(payload []byte) {
			defer r.tasks.Done()
			r.dispatch(ctx, payload)
		}(payload)
	}
}

// Drain waits for in-flight background work to finish.
func (r *Router) Drain() { r.tasks.Wait() }

func (r *Router) dispatch(ctx context.Context, payload []byte) {
	var queued job
	if err := json.Unmarshal(payload, &queued); err != nil {
		r.log.Error("malformed queued job", "error", err)
		return
	}
	r.mu.RLock()
	handler, ok := r.byName[queued.Handler]
	r.mu.RUnlock()
	if !ok {
		r.log.Warn("no handler for queued job", "handler", queued.Handler)
		return
	}
	if err := handler.Run(ctx, queued.Event); err != nil {
		// Background failures never roll back the caller's completion.
		r.log.Error("event handler failed",
			"handler", queued.Handler, "type", queued.Event.Type, "error", err)
	}
}

// TenantRouter stamps every routed event with a tenant uid.
type TenantRouter struct {
	router    *Router
	tenantUID string
}

// ForTenant scopes the router to one tenant.
func (r *Router) ForTenant(tenantUID string) *TenantRouter {
	return &TenantRouter{router: r, tenantUID: tenantUID}
}

// Route stamps the tenant and forwards to the system router.
func (t *TenantRouter) Route(ctx context.Context, event Event, delay time.Duration) {
	event.TenantUID = t.tenantUID
	t.router.Route(ctx, event, delay)
}
