// Package rental holds the rental-property vocabulary on top of the generic
// engine: which values a tenancy or a managed unit carries, ready-made fact
// documents, and the grouping of an annual summary into tax-form lines.
package rental

import (
	"fmt"

	"github.com/warp/rental-engine/generic"
)

// =============================================================================
// SUBJECT KINDS
// =============================================================================

const (
	// KindTenancy is a lease of a unit to a tenant. Its Soll bundle is the
	// rent the tenant owes each month.
	KindTenancy = generic.KindTenancy

	// KindManagedUnit is a unit in a condominium administered by a property
	// manager. Its Soll bundle is the monthly fee owed to the owners'
	// association. Usually bounded by the management contract.
	KindManagedUnit = generic.KindManagedUnit
)

// Kinds lists the subject kinds the engine knows.
var Kinds = []generic.SubjectKind{KindTenancy, KindManagedUnit}

// IsKind reports whether k is a known subject kind.
func IsKind(k generic.SubjectKind) bool {
	return k == KindTenancy || k == KindManagedUnit
}

// =============================================================================
// VALUE KEYS
// =============================================================================

// Rent bundle (tenancies).
const (
	KeyNetRent    = "net_rent"    // Kaltmiete
	KeyFeeAdvance = "fee_advance" // Nebenkostenvorauszahlung
)

// Condo fee bundle (managed units).
const (
	KeyNetFee  = "net_fee" // Hausgeld without reserve contribution
	KeyReserve = "reserve" // Erhaltungsrücklage
)

// KeysFor returns the bundle keys of kind, in canonical order.
func KeysFor(kind generic.SubjectKind) []string {
	switch kind {
	case KindTenancy:
		return []string{KeyNetRent, KeyFeeAdvance}
	case KindManagedUnit:
		return []string{KeyNetFee, KeyReserve}
	}
	return nil
}

// RentValues builds the Soll bundle of a tenancy.
func RentValues(netRent, feeAdvance generic.Amount) generic.Values {
	return generic.Values{
		{Key: KeyNetRent, Amount: netRent},
		{Key: KeyFeeAdvance, Amount: feeAdvance},
	}
}

// CondoFeeValues builds the Soll bundle of a managed unit.
func CondoFeeValues(netFee, reserve generic.Amount) generic.Values {
	return generic.Values{
		{Key: KeyNetFee, Amount: netFee},
		{Key: KeyReserve, Amount: reserve},
	}
}

// ValidateBundle checks that values carries exactly the keys of kind.
// Unknown kinds accept any bundle that passes generic.ValidateValues.
func ValidateBundle(kind generic.SubjectKind, id generic.IntervalID, values generic.Values) error {
	if err := generic.ValidateValues(id, values); err != nil {
		return err
	}
	want := KeysFor(kind)
	if want == nil {
		return nil
	}
	if len(values) != len(want) {
		return &generic.IntervalValidationError{IntervalID: id,
			Reason: fmt.Sprintf("%s bundle needs keys %v, got %v", kind, want, values.Keys())}
	}
	for _, key := range want {
		if _, ok := values.Get(key); !ok {
			return &generic.IntervalValidationError{IntervalID: id,
				Reason: fmt.Sprintf("%s bundle is missing %q", kind, key)}
		}
	}
	return nil
}
