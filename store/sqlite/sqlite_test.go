package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/generic"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func tp(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}

func tpPtr(year int, month time.Month, day int) *generic.TimePoint {
	t := tp(year, month, day)
	return &t
}

func rent(net, fee string) generic.Values {
	return generic.Values{
		{Key: "net_rent", Amount: generic.MustAmount(net)},
		{Key: "fee_advance", Amount: generic.MustAmount(fee)},
	}
}

// =============================================================================
// INTERVALS
// =============================================================================

func TestIntervals_RoundTripPreservesOrderAndOpenEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// GIVEN: a closed and an open interval saved out of order
	require.NoError(t, s.SaveInterval(ctx, generic.ValidityInterval{
		ID: "b", SubjectID: "t1", ValidFrom: tp(2024, time.July, 1), Values: rent("900", "230"),
	}))
	require.NoError(t, s.SaveInterval(ctx, generic.ValidityInterval{
		ID: "a", SubjectID: "t1", ValidFrom: tp(2024, time.January, 1),
		ValidTo: tpPtr(2024, time.June, 30), Values: rent("850", "200"), Note: "initial",
	}))

	// WHEN: loading
	got, err := s.LoadIntervals(ctx, "t1")
	require.NoError(t, err)

	// THEN: ordered by ValidFrom, values keep their key order
	require.Len(t, got, 2)
	assert.Equal(t, generic.IntervalID("a"), got[0].ID)
	assert.Equal(t, "initial", got[0].Note)
	require.NotNil(t, got[0].ValidTo)
	assert.True(t, got[0].ValidTo.Equal(tp(2024, time.June, 30)))
	assert.Nil(t, got[1].ValidTo)
	assert.Equal(t, []string{"net_rent", "fee_advance"}, got[1].Values.Keys())
	assert.True(t, got[1].Values.Total().Equal(generic.MustAmount("1130")))
}

func TestIntervals_UnknownSubjectIsEmpty(t *testing.T) {
	s := newTestStore(t)

	got, err := s.LoadIntervals(context.Background(), "nobody")

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveInterval_UpsertKeepsSubject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	iv := generic.ValidityInterval{ID: "a", SubjectID: "t1", ValidFrom: tp(2024, time.January, 1), Values: rent("850", "200")}
	require.NoError(t, s.SaveInterval(ctx, iv))

	// WHEN: the same id is saved again with a ValidTo
	require.NoError(t, s.SaveInterval(ctx, iv.WithValidTo(tpPtr(2024, time.March, 31))))

	// THEN: updated in place
	got, err := s.LoadIntervals(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].ValidTo.Equal(tp(2024, time.March, 31)))

	// WHEN: the same id is saved under another subject
	moved := iv
	moved.SubjectID = "t2"
	err = s.SaveInterval(ctx, moved)

	// THEN: rejected, the original is untouched
	assert.ErrorIs(t, err, generic.ErrDuplicateID)
	other, err := s.LoadIntervals(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDeleteInterval_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.DeleteInterval(context.Background(), "ghost")

	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveInterval(ctx, generic.ValidityInterval{
		ID: "a", SubjectID: "t1", ValidFrom: tp(2024, time.January, 1), Values: rent("850", "200"),
	}))

	// WHEN: a write group closes A, adds B, then fails
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(repo generic.IntervalRepository) error {
		intervals, err := repo.LoadIntervals(ctx, "t1")
		require.NoError(t, err)
		require.NoError(t, repo.SaveInterval(ctx, intervals[0].WithValidTo(tpPtr(2024, time.June, 30))))
		require.NoError(t, repo.SaveInterval(ctx, generic.ValidityInterval{
			ID: "b", SubjectID: "t1", ValidFrom: tp(2024, time.July, 1), Values: rent("900", "230"),
		}))

		// Reads inside the group see its own writes.
		seen, err := repo.LoadIntervals(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, seen, 2)
		return boom
	})

	// THEN: nothing of the group survives
	assert.ErrorIs(t, err, boom)
	got, err := s.LoadIntervals(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].ValidTo)
}

func TestWithTx_DrivesIntervalStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSubject(ctx, generic.Subject{
		ID: "m1", PropertyID: "p1", Kind: "managed_unit", GoverningEnd: tpPtr(2026, time.December, 31),
	}))
	intervals := generic.NewIntervalStore(s, generic.NewEventBus(nil), nil)
	intervals.Bounds = s
	intervals.Clock = generic.FixedClock(tp(2024, time.March, 15))

	// GIVEN: a first interval capped by the contract
	_, err := intervals.CommitSuccessor(ctx, generic.ValidityInterval{
		SubjectID: "m1", ValidFrom: tp(2024, time.January, 1), Values: rent("300", "0"),
	})
	require.NoError(t, err)

	// WHEN: a successor is committed
	closedOn, err := intervals.CommitSuccessor(ctx, generic.ValidityInterval{
		SubjectID: "m1", ValidFrom: tp(2025, time.January, 1), Values: rent("320", "0"),
	})
	require.NoError(t, err)

	// THEN: predecessor closed, successor inherits the contract end
	assert.True(t, closedOn.Equal(tp(2024, time.December, 31)))
	latest, err := intervals.Latest(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, latest.ValidTo)
	assert.True(t, latest.ValidTo.Equal(tp(2026, time.December, 31)))

	// WHEN: the successor is deleted again
	reopened, err := intervals.DeleteSuccessor(ctx, latest)
	require.NoError(t, err)

	// THEN: the predecessor is capped by the contract again
	require.NotNil(t, reopened)
	assert.True(t, reopened.Equal(tp(2026, time.December, 31)))
	history, err := intervals.History(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// =============================================================================
// SUBJECTS
// =============================================================================

func TestSubjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSubject(ctx, generic.Subject{ID: "t2", PropertyID: "p1", Kind: "tenancy", Name: "Top floor"}))
	require.NoError(t, s.SaveSubject(ctx, generic.Subject{ID: "t1", PropertyID: "p1", Kind: "tenancy", Name: "Ground floor"}))
	require.NoError(t, s.SaveSubject(ctx, generic.Subject{
		ID: "m1", PropertyID: "p2", Kind: "managed_unit", GoverningEnd: tpPtr(2027, time.June, 30),
	}))

	t.Run("SubjectsFor orders by id", func(t *testing.T) {
		got, err := s.SubjectsFor(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, generic.SubjectID("t1"), got[0].ID)
		assert.Equal(t, "Ground floor", got[0].Name)
	})

	t.Run("GetSubject", func(t *testing.T) {
		got, err := s.GetSubject(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, generic.SubjectKind("managed_unit"), got.Kind)
		require.NotNil(t, got.GoverningEnd)

		_, err = s.GetSubject(ctx, "ghost")
		assert.ErrorIs(t, err, generic.ErrNotFound)
	})

	t.Run("GoverningEnd", func(t *testing.T) {
		end, err := s.GoverningEnd(ctx, "m1")
		require.NoError(t, err)
		require.NotNil(t, end)
		assert.True(t, end.Equal(tp(2027, time.June, 30)))

		end, err = s.GoverningEnd(ctx, "t1")
		require.NoError(t, err)
		assert.Nil(t, end)

		end, err = s.GoverningEnd(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, end)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		require.NoError(t, s.SaveSubject(ctx, generic.Subject{ID: "t1", PropertyID: "p1", Kind: "tenancy", Name: "Renamed"}))
		got, err := s.GetSubject(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
	})
}

// =============================================================================
// EXPENSES
// =============================================================================

func TestExpenses_InsertOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	spread, err := generic.NewAmortizedExpense("roof", "p1", 2024, generic.MustAmount("10000"), 5, nil, "roof")
	require.NoError(t, err)
	explicit, err := generic.NewAmortizedExpense("heating", "p1", 2023, generic.MustAmount("3000"), 2,
		[]generic.Amount{generic.MustAmount("2000"), generic.MustAmount("1000")}, "")
	require.NoError(t, err)

	require.NoError(t, s.SaveExpense(ctx, spread))
	require.NoError(t, s.SaveExpense(ctx, explicit))

	// WHEN: the same id is booked again
	err = s.SaveExpense(ctx, spread)

	// THEN: duplicate
	assert.ErrorIs(t, err, generic.ErrDuplicateID)

	// AND: stored rows cannot be rewritten
	_, err = s.db.ExecContext(ctx, "UPDATE amortized_expenses SET total = '1' WHERE id = 'roof'")
	assert.Error(t, err)

	got, err := s.LoadExpenses(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, generic.ExpenseID("heating"), got[0].ID)
	require.Len(t, got[0].Shares, 2)
	assert.True(t, got[0].Shares[0].Equal(generic.MustAmount("2000")))
	assert.True(t, got[1].Total.Equal(generic.MustAmount("10000")))
	assert.Empty(t, got[1].Shares)

	assert.True(t, generic.ShareInYear(got[1], 2026).Equal(generic.MustAmount("2000")))
}

// =============================================================================
// POSTINGS
// =============================================================================

func TestPostingTotal_SumsDecimalsPerYearAndCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	postings := []generic.Posting{
		{ID: "r1", PropertyID: "p1", BookedOn: tp(2024, time.January, 3), Category: generic.CategoryRent, Amount: generic.MustAmount("0.10")},
		{ID: "r2", PropertyID: "p1", BookedOn: tp(2024, time.December, 31), Category: generic.CategoryRent, Amount: generic.MustAmount("0.20")},
		{ID: "r3", PropertyID: "p1", BookedOn: tp(2025, time.January, 1), Category: generic.CategoryRent, Amount: generic.MustAmount("99")},
		{ID: "i1", PropertyID: "p1", BookedOn: tp(2024, time.May, 1), Category: generic.CategoryInsurance, Amount: generic.MustAmount("300")},
		{ID: "x1", PropertyID: "p2", BookedOn: tp(2024, time.May, 1), Category: generic.CategoryRent, Amount: generic.MustAmount("500")},
	}
	for _, p := range postings {
		require.NoError(t, s.RecordPosting(ctx, p))
	}

	total, err := s.PostingTotal(ctx, "p1", 2024, generic.CategoryRent)
	require.NoError(t, err)
	assert.Equal(t, "0.30", total.String())

	total, err = s.PostingTotal(ctx, "p1", 2023, generic.CategoryRent)
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	assert.ErrorIs(t, s.RecordPosting(ctx, postings[0]), generic.ErrDuplicateID)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSubject(ctx, generic.Subject{ID: "t1", PropertyID: "p1", Kind: "tenancy"}))
	require.NoError(t, s.RecordPosting(ctx, generic.Posting{
		ID: "r1", PropertyID: "p1", BookedOn: tp(2024, time.January, 3), Category: generic.CategoryRent, Amount: generic.MustAmount("1"),
	}))

	require.NoError(t, s.Reset(ctx))

	subjects, err := s.SubjectsFor(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, subjects)
	total, err := s.PostingTotal(ctx, "p1", 2024, generic.CategoryRent)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}
