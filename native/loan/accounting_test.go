package loan

import (
	"errors"
	"math/big"
	"testing"
)

func rateBps(bps int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(bps), interestDenominator)
}

func TestFullInterestAmount(t *testing.T) {
	// 1000 bps of total-period interest on a principal of one million.
	total, err := FullInterestAmount(big.NewInt(1_000_000), rateBps(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total.Cmp(big.NewInt(1_100_000)) != 0 {
		t.Fatalf("unexpected total: %s", total)
	}
}

func TestFullInterestAmountRejectsSubMinimumRate(t *testing.T) {
	belowFloor := new(big.Int).Sub(interestDenominator, big.NewInt(1))
	if _, err := FullInterestAmount(big.NewInt(1_000_000), belowFloor); !errors.Is(err, ErrInvalidInterestRate) {
		t.Fatalf("expected ErrInvalidInterestRate, got %v", err)
	}
	if _, err := FullInterestAmount(big.NewInt(1_000_000), nil); !errors.Is(err, ErrInvalidInterestRate) {
		t.Fatalf("expected ErrInvalidInterestRate for nil rate, got %v", err)
	}
}

func installmentQuery(now int64, paid uint64) InstallmentQuery {
	return InstallmentQuery{
		Balance:          big.NewInt(1_000_000),
		StartDate:        0,
		DurationSecs:     1000,
		NumInstallments:  10,
		InterestRate:     rateBps(1000),
		InstallmentsPaid: paid,
		Now:              now,
	}
}

func TestCalcInstallmentOnTime(t *testing.T) {
	due, err := CalcInstallment(installmentQuery(50, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due.MinBalanceDue.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("unexpected minimum: %s", due.MinBalanceDue)
	}
	if due.LateFees.Sign() != 0 {
		t.Fatalf("expected no late fees, got %s", due.LateFees)
	}
	if due.MissedPayments != 0 {
		t.Fatalf("expected no missed payments, got %d", due.MissedPayments)
	}
}

func TestCalcInstallmentOneMissedPeriod(t *testing.T) {
	due, err := CalcInstallment(installmentQuery(150, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due.MissedPayments != 1 {
		t.Fatalf("expected one missed payment, got %d", due.MissedPayments)
	}
	if due.MinBalanceDue.Cmp(big.NewInt(20_100)) != 0 {
		t.Fatalf("unexpected minimum: %s", due.MinBalanceDue)
	}
	if due.LateFees.Cmp(big.NewInt(5_050)) != 0 {
		t.Fatalf("unexpected late fees: %s", due.LateFees)
	}
	if due.Total().Cmp(big.NewInt(25_150)) != 0 {
		t.Fatalf("unexpected total: %s", due.Total())
	}
}

func TestCalcInstallmentCompoundsAcrossMissedPeriods(t *testing.T) {
	due, err := CalcInstallment(installmentQuery(250, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due.MissedPayments != 2 {
		t.Fatalf("expected two missed payments, got %d", due.MissedPayments)
	}
	if due.MinBalanceDue.Cmp(big.NewInt(30_401)) != 0 {
		t.Fatalf("unexpected minimum: %s", due.MinBalanceDue)
	}
	if due.LateFees.Cmp(big.NewInt(10_200)) != 0 {
		t.Fatalf("unexpected late fees: %s", due.LateFees)
	}
}

func TestCalcInstallmentDueStrictlyIncreasesWithMissedPeriods(t *testing.T) {
	prev := big.NewInt(0)
	for missed := uint64(0); missed < 8; missed++ {
		now := int64(50 + 100*missed)
		due, err := CalcInstallment(installmentQuery(now, 0))
		if err != nil {
			t.Fatalf("missed=%d: unexpected error: %v", missed, err)
		}
		if due.MissedPayments != missed {
			t.Fatalf("expected %d missed payments, got %d", missed, due.MissedPayments)
		}
		total := due.Total()
		if total.Cmp(prev) <= 0 {
			t.Fatalf("missed=%d: total %s did not increase beyond %s", missed, total, prev)
		}
		prev = total
	}
}

func TestCalcInstallmentPastDueDate(t *testing.T) {
	due, err := CalcInstallment(installmentQuery(1500, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due.MissedPayments != 9 {
		t.Fatalf("expected nine missed payments, got %d", due.MissedPayments)
	}
	if due.MinBalanceDue.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected minimum: %s", due.MinBalanceDue)
	}
	if due.LateFees.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("unexpected late fees: %s", due.LateFees)
	}
}

func TestCalcInstallmentPaidAhead(t *testing.T) {
	due, err := CalcInstallment(installmentQuery(50, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due.MinBalanceDue.Sign() != 0 || due.LateFees.Sign() != 0 || due.MissedPayments != 0 {
		t.Fatalf("expected nothing due, got %+v", due)
	}
}

func TestCalcInstallmentErrors(t *testing.T) {
	q := installmentQuery(50, 0)
	q.NumInstallments = 0
	if _, err := CalcInstallment(q); !errors.Is(err, ErrNoInstallments) {
		t.Fatalf("expected ErrNoInstallments, got %v", err)
	}

	q = installmentQuery(0, 0)
	if _, err := CalcInstallment(q); !errors.Is(err, ErrLoanNotStarted) {
		t.Fatalf("expected ErrLoanNotStarted, got %v", err)
	}

	q = installmentQuery(50, 0)
	q.InterestRate = big.NewInt(1)
	if _, err := CalcInstallment(q); !errors.Is(err, ErrInvalidInterestRate) {
		t.Fatalf("expected ErrInvalidInterestRate, got %v", err)
	}
}
