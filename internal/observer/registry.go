package observer

import (
	"log/slog"
	"sync"
)

// Observer receives events. A returned error marks the observer as gone.
type Observer interface {
	Notify(Event) error
}

// Func adapts a function to the Observer interface.
type Func func(Event) error

func (f Func) Notify(e Event) error { return f(e) }

// Registry fans events out to attached observers. It remembers the last
// clientId and connectionStatus events and replays them to new observers.
type Registry struct {
	// sendMu orders broadcasts and replays.
	sendMu sync.Mutex

	mu        sync.Mutex
	observers map[uint64]Observer
	nextID    uint64
	clientID  *Event
	status    *Event
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		observers: make(map[uint64]Observer),
		logger:    logger,
	}
}

// Add attaches an observer and returns a function that detaches it.
func (r *Registry) Add(o Observer) (remove func()) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.observers[id] = o

	var replay []Event
	if r.clientID != nil {
		replay = append(replay, *r.clientID)
	}
	if r.status != nil {
		replay = append(replay, *r.status)
	}
	r.mu.Unlock()

	for _, e := range replay {
		if err := o.Notify(e); err != nil {
			r.drop(id, err)
			break
		}
	}

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// Notify broadcasts an event. It never fails; observers that return an
// error are removed after the broadcast.
func (r *Registry) Notify(e Event) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	switch e.Type {
	case EventClientID:
		r.clientID = &e
	case EventConnectionStatus:
		r.status = &e
	}
	snapshot := make(map[uint64]Observer, len(r.observers))
	for id, o := range r.observers {
		snapshot[id] = o
	}
	r.mu.Unlock()

	failed := make(map[uint64]error)
	for id, o := range snapshot {
		if err := o.Notify(e); err != nil {
			failed[id] = err
		}
	}
	for id, err := range failed {
		r.drop(id, err)
	}
}

// Len returns the number of attached observers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

func (r *Registry) drop(id uint64, err error) {
	r.mu.Lock()
	delete(r.observers, id)
	r.mu.Unlock()
	r.logger.Debug("observer removed", "error", err)
}
