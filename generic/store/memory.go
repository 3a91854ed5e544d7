// Package store provides in-memory implementations of the engine's persistence seams.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/rental-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	intervals map[generic.SubjectID][]generic.ValidityInterval
	expenses  map[generic.SubjectID][]generic.AmortizedExpense
	postings  map[generic.SubjectID][]generic.Posting
	subjects  map[generic.SubjectID]generic.Subject
}

func NewMemory() *Memory {
	return &Memory{
		intervals: make(map[generic.SubjectID][]generic.ValidityInterval),
		expenses:  make(map[generic.SubjectID][]generic.AmortizedExpense),
		postings:  make(map[generic.SubjectID][]generic.Posting),
		subjects:  make(map[generic.SubjectID]generic.Subject),
	}
}

// -----------------------------------------------------------------------------
// Intervals
// -----------------------------------------------------------------------------

func (m *Memory) LoadIntervals(_ context.Context, subjectID generic.SubjectID) ([]generic.ValidityInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadIntervalsLocked(subjectID), nil
}

func (m *Memory) loadIntervalsLocked(subjectID generic.SubjectID) []generic.ValidityInterval {
	src := m.intervals[subjectID]
	result := make([]generic.ValidityInterval, len(src))
	for i, iv := range src {
		result[i] = iv.Clone()
	}
	return result
}

func (m *Memory) SaveInterval(_ context.Context, iv generic.ValidityInterval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveIntervalLocked(iv)
}

func (m *Memory) saveIntervalLocked(iv generic.ValidityInterval) error {
	// An ID can only move within its own subject.
	for subj, ivs := range m.intervals {
		if subj == iv.SubjectID {
			continue
		}
		for _, existing := range ivs {
			if existing.ID == iv.ID {
				return generic.ErrDuplicateID
			}
		}
	}

	ivs := m.intervals[iv.SubjectID]
	replaced := false
	for i := range ivs {
		if ivs[i].ID == iv.ID {
			ivs[i] = iv.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		ivs = append(ivs, iv.Clone())
	}
	sort.SliceStable(ivs, func(i, j int) bool {
		return ivs[i].ValidFrom.Before(ivs[j].ValidFrom)
	})
	m.intervals[iv.SubjectID] = ivs
	return nil
}

func (m *Memory) DeleteInterval(_ context.Context, id generic.IntervalID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteIntervalLocked(id)
}

func (m *Memory) deleteIntervalLocked(id generic.IntervalID) error {
	for subj, ivs := range m.intervals {
		for i := range ivs {
			if ivs[i].ID == id {
				m.intervals[subj] = append(ivs[:i:i], ivs[i+1:]...)
				return nil
			}
		}
	}
	return &generic.NotFoundError{What: "interval", ID: string(id)}
}

// -----------------------------------------------------------------------------
// Expenses (insert-only)
// -----------------------------------------------------------------------------

func (m *Memory) SaveExpense(_ context.Context, e generic.AmortizedExpense) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.expenses[e.PropertyID] {
		if existing.ID == e.ID {
			return generic.ErrDuplicateID
		}
	}
	m.expenses[e.PropertyID] = append(m.expenses[e.PropertyID], e)
	return nil
}

func (m *Memory) LoadExpenses(_ context.Context, propertyID generic.SubjectID) ([]generic.AmortizedExpense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.AmortizedExpense, len(m.expenses[propertyID]))
	copy(result, m.expenses[propertyID])
	return result, nil
}

// -----------------------------------------------------------------------------
// Postings
// -----------------------------------------------------------------------------

func (m *Memory) RecordPosting(_ context.Context, p generic.Posting) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.postings[p.PropertyID] {
		if existing.ID == p.ID {
			return generic.ErrDuplicateID
		}
	}
	m.postings[p.PropertyID] = append(m.postings[p.PropertyID], p)
	return nil
}

func (m *Memory) PostingTotal(_ context.Context, propertyID generic.SubjectID, year int, category generic.Category) (generic.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := generic.ZeroAmount()
	for _, p := range m.postings[propertyID] {
		if p.Category == category && p.BookedOn.Year() == year {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

// -----------------------------------------------------------------------------
// Subjects
// -----------------------------------------------------------------------------

func (m *Memory) SaveSubject(_ context.Context, s generic.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[s.ID] = s
	return nil
}

func (m *Memory) GetSubject(_ context.Context, id generic.SubjectID) (generic.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subjects[id]
	if !ok {
		return generic.Subject{}, &generic.NotFoundError{What: "subject", ID: string(id)}
	}
	return s, nil
}

func (m *Memory) SubjectsFor(_ context.Context, propertyID generic.SubjectID) ([]generic.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.Subject
	for _, s := range m.subjects {
		if s.PropertyID == propertyID {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) GoverningEnd(_ context.Context, subjectID generic.SubjectID) (*generic.TimePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subjects[subjectID]
	if !ok || s.GoverningEnd == nil {
		return nil, nil
	}
	end := *s.GoverningEnd
	return &end, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with write-group support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a write group.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.IntervalRepository) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() map[generic.SubjectID][]generic.ValidityInterval {
	out := make(map[generic.SubjectID][]generic.ValidityInterval, len(tm.intervals))
	for k := range tm.intervals {
		out[k] = tm.loadIntervalsLocked(k)
	}
	return out
}

func (tm *TxMemory) restore(s map[generic.SubjectID][]generic.ValidityInterval) {
	tm.intervals = s
}

// txMemoryView runs on the parent's already-held lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) LoadIntervals(_ context.Context, subjectID generic.SubjectID) ([]generic.ValidityInterval, error) {
	return tv.parent.loadIntervalsLocked(subjectID), nil
}

func (tv *txMemoryView) SaveInterval(_ context.Context, iv generic.ValidityInterval) error {
	return tv.parent.saveIntervalLocked(iv)
}

func (tv *txMemoryView) DeleteInterval(_ context.Context, id generic.IntervalID) error {
	return tv.parent.deleteIntervalLocked(id)
}

// Compile-time checks
var (
	_ generic.IntervalTxStore = (*TxMemory)(nil)
	_ generic.ExpenseSource   = (*Memory)(nil)
	_ generic.PostingSource   = (*Memory)(nil)
	_ generic.SubjectSource   = (*Memory)(nil)
	_ generic.GoverningBound  = (*Memory)(nil)
)
