package loan

import (
	"errors"
	"math/big"
)

var (
	// ErrInvalidInterestRate indicates a rate below the 0.01% per-period
	// floor (one whole 1e18 unit).
	ErrInvalidInterestRate = errors.New("loan accounting: interest rate below minimum")
	// ErrNoInstallments indicates an installment calculation was requested
	// for a bullet loan.
	ErrNoInstallments = errors.New("loan accounting: no installments configured")
	// ErrLoanNotStarted indicates the schedule has not begun yet.
	ErrLoanNotStarted = errors.New("loan accounting: start date not reached")
)

// FullInterestAmount returns the total obligation of a bullet loan:
// principal + floor(principal * floor(rate / 1e18) / 10_000).
func FullInterestAmount(principal, rate *big.Int) (*big.Int, error) {
	if rate == nil || rate.Cmp(interestDenominator) < 0 {
		return nil, ErrInvalidInterestRate
	}
	if principal == nil || principal.Sign() < 0 {
		principal = big.NewInt(0)
	}
	units := new(big.Int).Quo(rate, interestDenominator)
	interest := new(big.Int).Mul(principal, units)
	interest.Quo(interest, basisPoints)
	return new(big.Int).Add(principal, interest), nil
}

// InstallmentQuery carries the inputs of a minimum-payment calculation.
type InstallmentQuery struct {
	Balance          *big.Int
	StartDate        int64
	DurationSecs     uint64
	NumInstallments  uint64
	InterestRate     *big.Int
	InstallmentsPaid uint64
	Now              int64
}

// InstallmentDue is the result of a minimum-payment calculation. MinBalanceDue
// is the interest-bearing minimum; LateFees is reported separately so callers
// can account for it as protocol revenue rather than balance reduction.
type InstallmentDue struct {
	MinBalanceDue  *big.Int
	LateFees       *big.Int
	MissedPayments uint64
}

// Total returns the full amount a borrower must pay to satisfy the minimum:
// the interest-bearing minimum plus accrued late fees.
func (d InstallmentDue) Total() *big.Int {
	total := cloneBigInt(d.MinBalanceDue)
	if d.LateFees != nil {
		total.Add(total, d.LateFees)
	}
	return total
}

// CalcInstallment computes the minimum payment currently due on an installment
// loan from its terms, outstanding balance and payment history.
//
// The current installment period index p is the smallest integer in
// [1, NumInstallments] such that p*timePerInstallment covers the elapsed time;
// p == 0 is the sentinel for a schedule that has run past its full duration.
// Three regimes follow:
//
//   - on time (p == paid+1): one interest-only installment on the balance,
//     no late fees, no missed payments;
//   - late but not expired (p > paid+1): each missed period compounds the
//     running balance and accrues a late fee, then one further interest-only
//     installment covers the current period;
//   - past the due date (p == 0): a single non-compounding pass prices the
//     remaining periods at the combined per-period rate (interest plus late
//     fee). The asymmetry with the compounding branch mirrors the reference
//     behaviour and is preserved deliberately.
func CalcInstallment(q InstallmentQuery) (InstallmentDue, error) {
	if q.NumInstallments == 0 {
		return InstallmentDue{}, ErrNoInstallments
	}
	if q.StartDate >= q.Now {
		return InstallmentDue{}, ErrLoanNotStarted
	}
	if q.InterestRate == nil || q.InterestRate.Cmp(interestDenominator) < 0 {
		return InstallmentDue{}, ErrInvalidInterestRate
	}

	// Per-installment rate in basis points, scaled by 1e6 to retain
	// precision until the final division.
	rateUnits := new(big.Int).Quo(q.InterestRate, interestDenominator)
	perInstallment := new(big.Int).Mul(rateUnits, installmentScale)
	perInstallment.Quo(perInstallment, new(big.Int).SetUint64(q.NumInstallments))

	balance := cloneBigInt(q.Balance)
	elapsed := uint64(q.Now - q.StartDate)
	period := currentPeriod(elapsed, q.DurationSecs, q.NumInstallments)
	next := q.InstallmentsPaid + 1

	switch {
	case period != 0 && period == next:
		// On time: a single interest installment, nothing missed.
		return InstallmentDue{
			MinBalanceDue: installmentInterest(balance, perInstallment),
			LateFees:      big.NewInt(0),
		}, nil

	case period != 0 && period > next:
		// Late but within the duration: compound each missed period, then
		// charge one further interest installment for the current one.
		missed := period - next
		minBalDue := big.NewInt(0)
		lateFees := big.NewInt(0)
		currentBal := cloneBigInt(balance)
		for i := uint64(0); i < missed; i++ {
			minBalDue.Add(minBalDue, installmentInterest(currentBal, perInstallment))
			currentBal.Add(currentBal, minBalDue)
			lateFees.Add(lateFees, bpsShare(currentBal, lateFeeBps.Uint64()))
		}
		minBalDue.Add(minBalDue, installmentInterest(currentBal, perInstallment))
		return InstallmentDue{
			MinBalanceDue:  minBalDue,
			LateFees:       lateFees,
			MissedPayments: missed,
		}, nil

	case period == 0:
		// Past the due date: price every remaining period in one pass at the
		// combined rate, without compounding.
		var missed uint64
		if q.NumInstallments > q.InstallmentsPaid {
			missed = q.NumInstallments - next
		}
		periods := new(big.Int).SetUint64(missed + 1)
		interest := new(big.Int).Mul(balance, perInstallment)
		interest.Mul(interest, periods)
		interest.Quo(interest, installmentScale)
		interest.Quo(interest, basisPoints)
		lateFees := new(big.Int).Mul(balance, lateFeeBps)
		lateFees.Mul(lateFees, periods)
		lateFees.Quo(lateFees, basisPoints)
		return InstallmentDue{
			MinBalanceDue:  interest,
			LateFees:       lateFees,
			MissedPayments: missed,
		}, nil

	default:
		// The current period's installment is already paid; nothing is due.
		return InstallmentDue{
			MinBalanceDue: big.NewInt(0),
			LateFees:      big.NewInt(0),
		}, nil
	}
}

// currentPeriod locates the installment period covering the elapsed time.
// Returns 0 when the schedule has run past its full duration.
func currentPeriod(elapsed, durationSecs, numInstallments uint64) uint64 {
	if elapsed > durationSecs {
		return 0
	}
	timePer := durationSecs / numInstallments
	if timePer == 0 {
		return 0
	}
	period := (elapsed + timePer - 1) / timePer
	if period == 0 {
		period = 1
	}
	if period > numInstallments {
		// Remainder seconds past the last full period still belong to the
		// final installment while the loan is inside its duration.
		period = numInstallments
	}
	return period
}
