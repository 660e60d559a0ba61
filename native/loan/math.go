package loan

import "math/big"

var (
	// interestDenominator scales LoanTerms.InterestRate: one whole unit of
	// rate (1e18) represents 0.01%, i.e. one basis point.
	interestDenominator = mustBigInt("1000000000000000000")
	// basisPoints converts basis-point rates into fractions.
	basisPoints = big.NewInt(10_000)
	// installmentScale retains six decimal digits of precision between the
	// per-installment division and the final basis-point division.
	installmentScale = big.NewInt(1_000_000)
	// lateFeeBps is the 0.5% fee applied per missed or late installment.
	lateFeeBps = big.NewInt(50)
)

// GracePeriod is the declared grace window, in seconds, before a missed
// installment is treated as late. The installment calculation does not
// currently consult it; it is retained for schedule tooling and integrators.
const GracePeriod = 604_800

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// bpsShare returns floor(amount * bps / 10_000).
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

// installmentInterest returns floor(floor(balance * perInstallment / 1e6) / 10_000),
// the interest-only minimum for a single period at the scaled per-installment
// rate. Both floors are deliberate: precision is retained in micro-units until
// the final basis-point division.
func installmentInterest(balance, perInstallment *big.Int) *big.Int {
	if balance == nil || balance.Sign() <= 0 || perInstallment == nil || perInstallment.Sign() <= 0 {
		return big.NewInt(0)
	}
	due := new(big.Int).Mul(balance, perInstallment)
	due.Quo(due, installmentScale)
	due.Quo(due, basisPoints)
	return due
}
