package loan

import (
	"fmt"
	"math/big"
)

// LoanState enumerates the lifecycle states of a loan. The zero value is
// reserved so that a default-initialised storage entry can never masquerade as
// a legitimate loan record.
type LoanState uint8

const (
	// LoanStateUnset is the reserved zero element and never a valid state.
	LoanStateUnset LoanState = iota
	LoanStateCreated
	LoanStateActive
	LoanStateRepaid
	LoanStateDefaulted
)

// Valid reports whether the state value is a real lifecycle state.
func (s LoanState) Valid() bool {
	switch s {
	case LoanStateCreated, LoanStateActive, LoanStateRepaid, LoanStateDefaulted:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state admits no further transitions.
func (s LoanState) Terminal() bool {
	return s == LoanStateRepaid || s == LoanStateDefaulted
}

func (s LoanState) String() string {
	switch s {
	case LoanStateCreated:
		return "created"
	case LoanStateActive:
		return "active"
	case LoanStateRepaid:
		return "repaid"
	case LoanStateDefaulted:
		return "defaulted"
	default:
		return "unset"
	}
}

// LoanTerms captures the immutable parameters of a loan as counter-signed by
// the borrower and lender. Amounts are denominated in the smallest unit of the
// payable currency.
type LoanTerms struct {
	// DurationSecs is the absolute lifetime of the loan. Zero means the loan
	// carries no absolute due date and is governed by its installment
	// schedule alone.
	DurationSecs uint64 `json:"durationSecs"`
	// Principal is the amount advanced by the lender.
	Principal *big.Int `json:"principal"`
	// InterestRate expresses the total-period interest scaled by 1e18. The
	// minimum non-zero value is 1e18, representing 0.01%.
	InterestRate *big.Int `json:"interestRate"`
	// CollateralID references the locked vault backing the loan.
	CollateralID uint64 `json:"collateralId"`
	// PayableCurrency identifies the asset principal and repayments move in.
	PayableCurrency string `json:"payableCurrency"`
	// StartDate records when the repayment schedule begins.
	StartDate int64 `json:"startDate"`
	// NumInstallments divides the duration into equal repayment periods.
	// Zero selects a single bullet repayment.
	NumInstallments uint64 `json:"numInstallments"`
}

// Installment reports whether the terms describe an installment loan.
func (t LoanTerms) Installment() bool {
	return t.NumInstallments > 0
}

// Clone returns a deep copy of the terms.
func (t LoanTerms) Clone() LoanTerms {
	clone := t
	if t.Principal != nil {
		clone.Principal = new(big.Int).Set(t.Principal)
	}
	if t.InterestRate != nil {
		clone.InterestRate = new(big.Int).Set(t.InterestRate)
	}
	return clone
}

// LoanData is the canonical record the registry stores for every loan.
type LoanData struct {
	ID uint64 `json:"id"`
	// BorrowerNoteID and LenderNoteID are zero until the loan is started.
	// Zero is a reserved sentinel, never a valid note id.
	BorrowerNoteID uint64    `json:"borrowerNoteId"`
	LenderNoteID   uint64    `json:"lenderNoteId"`
	Terms          LoanTerms `json:"terms"`
	State          LoanState `json:"state"`
	// DueDate is the absolute timestamp after which the lender may claim the
	// collateral: creation time plus DurationSecs.
	DueDate   int64 `json:"dueDate"`
	CreatedAt int64 `json:"createdAt"`
	// Balance is the outstanding principal-bearing obligation of an
	// installment loan. It starts at the principal and decreases with every
	// payment net of late fees.
	Balance *big.Int `json:"balance"`
	// BalancePaid accumulates every payment made against the loan.
	BalancePaid *big.Int `json:"balancePaid"`
	// LateFeesAccrued accumulates the late fees collected to date.
	LateFeesAccrued     *big.Int `json:"lateFeesAccrued"`
	NumMissedPayments   uint64   `json:"numMissedPayments"`
	NumInstallmentsPaid uint64   `json:"numInstallmentsPaid"`
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (d *LoanData) Clone() *LoanData {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Terms = d.Terms.Clone()
	if d.Balance != nil {
		clone.Balance = new(big.Int).Set(d.Balance)
	}
	if d.BalancePaid != nil {
		clone.BalancePaid = new(big.Int).Set(d.BalancePaid)
	}
	if d.LateFeesAccrued != nil {
		clone.LateFeesAccrued = new(big.Int).Set(d.LateFeesAccrued)
	}
	return &clone
}

// SanitizeLoan validates and normalises a loan record loaded from storage,
// returning a cloned instance with non-nil amount fields.
func SanitizeLoan(d *LoanData) (*LoanData, error) {
	if d == nil {
		return nil, fmt.Errorf("nil loan record")
	}
	clone := d.Clone()
	if !clone.State.Valid() {
		return nil, fmt.Errorf("invalid loan state: %d", clone.State)
	}
	if clone.Terms.Principal == nil {
		clone.Terms.Principal = big.NewInt(0)
	}
	if clone.Terms.InterestRate == nil {
		clone.Terms.InterestRate = big.NewInt(0)
	}
	if clone.Balance == nil {
		clone.Balance = big.NewInt(0)
	}
	if clone.BalancePaid == nil {
		clone.BalancePaid = big.NewInt(0)
	}
	if clone.LateFeesAccrued == nil {
		clone.LateFeesAccrued = big.NewInt(0)
	}
	return clone, nil
}
