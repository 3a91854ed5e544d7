package generic_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/generic"
)

func TestValidateInterval(t *testing.T) {
	tests := []struct {
		name    string
		iv      generic.ValidityInterval
		wantErr bool
	}{
		{"open month start", generic.ValidityInterval{ID: "a", SubjectID: "t1", ValidFrom: tp(2023, 7, 1), Values: net("1")}, false},
		{"closed month end", generic.ValidityInterval{ID: "a", SubjectID: "t1", ValidFrom: tp(2024, 2, 1), ValidTo: tpPtr(2024, 2, 29), Values: net("1")}, false},
		{"no subject", generic.ValidityInterval{ID: "a", ValidFrom: tp(2023, 7, 1), Values: net("1")}, true},
		{"mid-month start", generic.ValidityInterval{ID: "a", SubjectID: "t1", ValidFrom: tp(2023, 7, 2), Values: net("1")}, true},
		{"mid-month end", generic.ValidityInterval{ID: "a", SubjectID: "t1", ValidFrom: tp(2023, 7, 1), ValidTo: tpPtr(2023, 9, 15), Values: net("1")}, true},
		{"end before start", generic.ValidityInterval{ID: "a", SubjectID: "t1", ValidFrom: tp(2023, 7, 1), ValidTo: tpPtr(2023, 5, 31), Values: net("1")}, true},
		{"empty values", generic.ValidityInterval{ID: "a", SubjectID: "t1", ValidFrom: tp(2023, 7, 1)}, true},
		{"duplicate key", generic.ValidityInterval{ID: "a", SubjectID: "t1", ValidFrom: tp(2023, 7, 1),
			Values: generic.Values{{Key: "net", Amount: generic.MustAmount("1")}, {Key: "net", Amount: generic.MustAmount("2")}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := generic.ValidateInterval(tt.iv)
			if tt.wantErr {
				assert.ErrorIs(t, err, generic.ErrInvalidInterval)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSequence_Overlap(t *testing.T) {
	err := generic.ValidateSequence([]generic.ValidityInterval{
		{ID: "a", SubjectID: "t1", ValidFrom: tp(2023, 1, 1), ValidTo: tpPtr(2023, 8, 31), Values: net("1")},
		{ID: "b", SubjectID: "t1", ValidFrom: tp(2023, 7, 1), Values: net("2")},
	})
	assert.ErrorIs(t, err, generic.ErrSequencing)

	err = generic.ValidateSequence([]generic.ValidityInterval{
		{ID: "a", SubjectID: "t1", ValidFrom: tp(2023, 1, 1), Values: net("1")},
		{ID: "b", SubjectID: "t1", ValidFrom: tp(2023, 7, 1), Values: net("2")},
	})
	assert.ErrorIs(t, err, generic.ErrSequencing, "two open intervals")
}

func TestValidateDeletion_StartingToday(t *testing.T) {
	iv := generic.ValidityInterval{ID: "a", SubjectID: "t1", ValidFrom: tp(2023, 7, 1)}

	assert.ErrorIs(t, generic.ValidateDeletion(iv, tp(2023, 7, 1)), generic.ErrTemporalConstraint)
	assert.NoError(t, generic.ValidateDeletion(iv, tp(2023, 6, 30)))
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, generic.IsConflict(&generic.SequencingError{SubjectID: "t1"}))
	assert.True(t, generic.IsConflict(&generic.TemporalConstraintError{IntervalID: "a"}))
	assert.True(t, generic.IsClientError(&generic.InvalidSpreadError{SpreadYears: 9}))
	assert.True(t, generic.IsNotFound(&generic.NotFoundError{What: "interval", ID: "x"}))
	assert.False(t, generic.IsClientError(&generic.NotFoundError{What: "interval", ID: "x"}))
}

func TestAmountJSON(t *testing.T) {
	var v generic.Values
	require.NoError(t, json.Unmarshal([]byte(`[{"key":"net","amount":"512.5"},{"key":"heating","amount":80}]`), &v))

	assert.Equal(t, []string{"net", "heating"}, v.Keys())
	assert.Equal(t, "592.50", v.Total().String())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"key":"net","amount":"512.50"},{"key":"heating","amount":"80.00"}]`, string(out))
}

func TestTimePoint_MonthArithmetic(t *testing.T) {
	assert.Equal(t, "2024-02-01", tp(2024, 1, 31).AddMonths(1).String())
	assert.True(t, tp(2024, 2, 29).IsMonthEnd())
	assert.False(t, tp(2023, 2, 28).AddDays(1).IsMonthEnd())
	assert.Equal(t, "2023-02-28", generic.EndOfMonth(2023, 2).String())
}
