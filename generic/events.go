package generic

import (
	"context"
	"log/slog"
	"sync"

	"github.com/warp/rental-engine/logging"
)

// =============================================================================
// EVENTS - Explicit observer registration for fact changes
// =============================================================================

type EventKind string

const (
	EventIntervalCommitted EventKind = "interval_committed"
	EventIntervalDeleted   EventKind = "interval_deleted"
	EventExpenseBooked     EventKind = "expense_booked"
	EventPostingRecorded   EventKind = "posting_recorded"
)

// Event describes a committed change. Only the fields relevant to the kind are set.
type Event struct {
	Kind       EventKind  `json:"kind"`
	SubjectID  SubjectID  `json:"subject_id,omitempty"`
	PropertyID SubjectID  `json:"property_id,omitempty"`
	IntervalID IntervalID `json:"interval_id,omitempty"`
	ExpenseID  ExpenseID  `json:"expense_id,omitempty"`

	// Years whose annual summaries the change affects. Empty for interval
	// events, which may touch any year.
	Years []int `json:"years,omitempty"`

	At TimePoint `json:"at"`
}

// Observer receives events after the change is committed.
type Observer interface {
	Notify(ctx context.Context, e Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event) error

func (f ObserverFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

// EventBus fans events out to the observers registered on it. It is created
// by the caller and passed to whoever publishes; there is no package-level bus.
type EventBus struct {
	mu        sync.RWMutex
	observers []Observer
	logger    *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{logger: logger}
}

// Subscribe registers an observer.
func (b *EventBus) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Publish delivers e to every observer in registration order. Observer
// failures are logged and do not stop delivery; the change is already
// committed. A nil bus is a no-op.
func (b *EventBus) Publish(ctx context.Context, e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	observers := append([]Observer(nil), b.observers...)
	b.mu.RUnlock()

	for _, o := range observers {
		if err := o.Notify(ctx, e); err != nil {
			b.logger.WarnContext(ctx, "event observer failed",
				"kind", e.Kind, "subject_id", e.SubjectID, "property_id", e.PropertyID,
				logging.Err(err))
		}
	}
}

// ExpenseYears lists the assessment years an expense contributes to.
func ExpenseYears(e AmortizedExpense) []int {
	years := make([]int, 0, e.SpreadYears)
	for y := e.OriginYear; y < e.OriginYear+e.SpreadYears; y++ {
		years = append(years, y)
	}
	return years
}
