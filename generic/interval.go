/*
interval.go - Validity interval store for Soll values

PURPOSE:
  A subject (tenancy or managed unit) carries a chronological sequence of
  validity intervals, each holding the Soll bundle in effect for
  [ValidFrom, ValidTo]. This file answers point-in-time questions and
  performs the two structural edits the sequence supports:

    commit successor:  |---- A ---------------------->
                       |---- A ----][---- B -------->   A.ValidTo = B.ValidFrom - 1

    delete successor:  |---- A ----][---- B -------->   (B still in the future)
                       |---- A ---------------------->   A reopened (or capped by contract)

LOOKUP RULES:
  - A month belongs to the interval covering its first day
  - ValidFrom and ValidTo are both inclusive
  - At most one interval is open; it answers every query on or after its start

WRITE GROUPS:
  Both edits run inside Store.WithTx. Validation happens inside the group, so
  a rejected edit leaves both intervals exactly as they were.

SEE ALSO:
  - period.go: ValidityInterval and the pure slice lookups
  - validation.go: ValidateSuccessor, ValidateDeletion
*/
package generic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/warp/rental-engine/logging"
)

// IntervalStore is the engine's entry point for Soll interval operations.
type IntervalStore struct {
	Store  IntervalTxStore
	Bounds GoverningBound
	Clock  Clock
	Events *EventBus
	Logger *slog.Logger
}

// NewIntervalStore wires an interval store with the system clock and no
// external contract bounds. Override the fields for anything else.
func NewIntervalStore(store IntervalTxStore, events *EventBus, logger *slog.Logger) *IntervalStore {
	return &IntervalStore{
		Store:  store,
		Bounds: NoBound{},
		Clock:  SystemClock,
		Events: events,
		Logger: logger,
	}
}

func (s *IntervalStore) today() TimePoint {
	if s.Clock == nil {
		return Today()
	}
	return s.Clock()
}

func (s *IntervalStore) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *IntervalStore) bound(ctx context.Context, subjectID SubjectID) (*TimePoint, error) {
	if s.Bounds == nil {
		return nil, nil
	}
	return s.Bounds.GoverningEnd(ctx, subjectID)
}

// =============================================================================
// QUERIES
// =============================================================================

// ValueAt returns the Soll bundle in effect on the first day of (year, month).
func (s *IntervalStore) ValueAt(ctx context.Context, subjectID SubjectID, year int, month time.Month) (Values, error) {
	intervals, err := s.Store.LoadIntervals(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	at := StartOfMonth(year, month)
	iv, ok := IntervalAt(intervals, at)
	if !ok {
		return nil, &NotFoundError{What: "interval", ID: string(subjectID), At: at}
	}
	return iv.Values.Clone(), nil
}

// CurrentValue returns the Soll bundle in effect today.
func (s *IntervalStore) CurrentValue(ctx context.Context, subjectID SubjectID) (Values, error) {
	today := s.today()
	return s.ValueAt(ctx, subjectID, today.Year(), today.Month())
}

// Latest returns the interval with the greatest ValidFrom. It may lie in
// the future (a pre-registered change).
func (s *IntervalStore) Latest(ctx context.Context, subjectID SubjectID) (ValidityInterval, error) {
	intervals, err := s.Store.LoadIntervals(ctx, subjectID)
	if err != nil {
		return ValidityInterval{}, err
	}
	latest, ok := LatestOf(intervals)
	if !ok {
		return ValidityInterval{}, &NotFoundError{What: "interval", ID: string(subjectID)}
	}
	return latest, nil
}

// HistoryFor returns the intervals intersecting year, ordered by ValidFrom.
func (s *IntervalStore) HistoryFor(ctx context.Context, subjectID SubjectID, year int) ([]ValidityInterval, error) {
	intervals, err := s.Store.LoadIntervals(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return Intersecting(intervals, YearPeriod(year)), nil
}

// History returns every interval of the subject.
func (s *IntervalStore) History(ctx context.Context, subjectID SubjectID) ([]ValidityInterval, error) {
	return s.Store.LoadIntervals(ctx, subjectID)
}

// CoverageFor reports the first and last covered month of year.
func (s *IntervalStore) CoverageFor(ctx context.Context, subjectID SubjectID, year int) (Coverage, error) {
	history, err := s.HistoryFor(ctx, subjectID, year)
	if err != nil {
		return Coverage{}, err
	}
	return CoverageOf(history, year), nil
}

// =============================================================================
// SUCCESSION
// =============================================================================

// ProposeSuccessor builds an uncommitted draft following the latest interval,
// pre-filled with its values.
//
// ValidFrom is the first day after the latest interval's ValidTo. When the
// latest interval is open, or only capped by the governing contract, it is
// the first day of next month; if the latest interval itself starts later
// than that, the month after its start.
func (s *IntervalStore) ProposeSuccessor(ctx context.Context, subjectID SubjectID) (ValidityInterval, error) {
	latest, err := s.Latest(ctx, subjectID)
	if err != nil {
		return ValidityInterval{}, err
	}
	bound, err := s.bound(ctx, subjectID)
	if err != nil {
		return ValidityInterval{}, err
	}

	var from TimePoint
	cappedByContract := latest.ValidTo != nil && bound != nil && latest.ValidTo.Equal(*bound)
	if latest.ValidTo != nil && !cappedByContract {
		from = latest.ValidTo.AddDays(1)
	} else {
		today := s.today()
		from = StartOfMonth(today.Year(), today.Month()).AddMonths(1)
		if !from.After(latest.ValidFrom) {
			from = latest.ValidFrom.AddMonths(1)
		}
	}

	return ValidityInterval{
		SubjectID: subjectID,
		ValidFrom: from,
		Values:    latest.Values.Clone(),
	}, nil
}

// CommitSuccessor persists draft and closes its predecessor (the current
// latest interval) on draft.ValidFrom - 1 day. A predecessor that already
// ends before draft.ValidFrom is left as is. Returns the predecessor's end
// date; the zero TimePoint when draft is the subject's first interval.
//
// If the subject has a governing contract end and the draft has no ValidTo,
// the draft inherits the contract end.
func (s *IntervalStore) CommitSuccessor(ctx context.Context, draft ValidityInterval) (TimePoint, error) {
	if draft.ID == "" {
		draft.ID = IntervalID(uuid.NewString())
	}
	draft = draft.Clone()

	// Resolved outside the write group: stores hold their lock inside WithTx.
	bound, err := s.bound(ctx, draft.SubjectID)
	if err != nil {
		return TimePoint{}, err
	}
	if draft.ValidTo == nil && bound != nil && bound.After(draft.ValidFrom) {
		draft.ValidTo = bound
	}

	var closedOn TimePoint
	err = s.Store.WithTx(ctx, func(repo IntervalRepository) error {
		intervals, err := repo.LoadIntervals(ctx, draft.SubjectID)
		if err != nil {
			return err
		}

		pred, hasPred := LatestOf(intervals)
		if !hasPred {
			if err := ValidateInterval(draft); err != nil {
				return err
			}
			return repo.SaveInterval(ctx, draft)
		}

		if err := ValidateSuccessor(pred, draft, bound); err != nil {
			return err
		}

		// A predecessor that already ended before the draft keeps its end;
		// the months in between stay vacant.
		if pred.ValidTo != nil && pred.ValidTo.Before(draft.ValidFrom) {
			closedOn = *pred.ValidTo
		} else {
			closedOn = draft.ValidFrom.AddDays(-1)
			if err := repo.SaveInterval(ctx, pred.WithValidTo(&closedOn)); err != nil {
				return fmt.Errorf("close predecessor %s: %w", pred.ID, err)
			}
		}
		if err := repo.SaveInterval(ctx, draft); err != nil {
			return fmt.Errorf("save successor %s: %w", draft.ID, err)
		}
		return nil
	})
	if err != nil {
		s.logger().WarnContext(ctx, "commit successor rejected",
			"subject_id", draft.SubjectID, "valid_from", draft.ValidFrom.String(),
			logging.Err(err))
		return TimePoint{}, err
	}

	s.logger().InfoContext(ctx, "successor committed",
		"subject_id", draft.SubjectID, "interval_id", draft.ID,
		"valid_from", draft.ValidFrom.String(), "predecessor_closed_on", closedOn.String())
	s.Events.Publish(ctx, Event{
		Kind:       EventIntervalCommitted,
		SubjectID:  draft.SubjectID,
		IntervalID: draft.ID,
		At:         draft.ValidFrom,
	})
	return closedOn, nil
}

// DeleteSuccessor removes a not-yet-effective interval and reopens its
// predecessor when the two are adjacent; a vacancy before the deleted
// interval is kept. The reopened predecessor's new ValidTo is:
//   - the deleted interval's ValidTo, if another interval follows it
//   - the governing contract end, if the subject has one
//   - nil (open) otherwise
//
// Returns the predecessor's ValidTo afterwards (nil = open, or no predecessor).
func (s *IntervalStore) DeleteSuccessor(ctx context.Context, target ValidityInterval) (*TimePoint, error) {
	today := s.today()
	bound, err := s.bound(ctx, target.SubjectID)
	if err != nil {
		return nil, err
	}

	var reopenedTo *TimePoint
	err = s.Store.WithTx(ctx, func(repo IntervalRepository) error {
		intervals, err := repo.LoadIntervals(ctx, target.SubjectID)
		if err != nil {
			return err
		}

		idx := -1
		for i, iv := range intervals {
			if iv.ID == target.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return &NotFoundError{What: "interval", ID: string(target.ID)}
		}
		stored := intervals[idx]
		// Judge by the persisted start, not by what the caller handed in.
		if err := ValidateDeletion(stored, today); err != nil {
			return err
		}

		if err := repo.DeleteInterval(ctx, stored.ID); err != nil {
			return fmt.Errorf("delete interval %s: %w", stored.ID, err)
		}
		if idx == 0 {
			return nil
		}

		pred := intervals[idx-1]
		adjacent := pred.ValidTo != nil && pred.ValidTo.AddDays(1).Equal(stored.ValidFrom)
		if !adjacent {
			reopenedTo = pred.ValidTo
			return nil
		}
		if idx < len(intervals)-1 {
			reopenedTo = stored.ValidTo
		} else {
			reopenedTo = bound
		}
		if err := repo.SaveInterval(ctx, pred.WithValidTo(reopenedTo)); err != nil {
			return fmt.Errorf("reopen predecessor %s: %w", pred.ID, err)
		}
		return nil
	})
	if err != nil {
		s.logger().WarnContext(ctx, "delete successor rejected",
			"subject_id", target.SubjectID, "interval_id", target.ID,
			logging.Err(err))
		return nil, err
	}

	s.logger().InfoContext(ctx, "successor deleted",
		"subject_id", target.SubjectID, "interval_id", target.ID)
	s.Events.Publish(ctx, Event{
		Kind:       EventIntervalDeleted,
		SubjectID:  target.SubjectID,
		IntervalID: target.ID,
		At:         today,
	})
	return reopenedTo, nil
}
