package loan

import (
	"errors"
	"math/big"
	"time"

	"nftlend/crypto"
)

var (
	// ErrNoteNotFound indicates the note id does not resolve to a loan.
	ErrNoteNotFound = errors.New("repayment controller: note not found")
	// ErrNotNoteHolder indicates the caller does not hold the note conferring
	// the requested right.
	ErrNotNoteHolder = errors.New("repayment controller: caller does not hold note")
	// ErrRepaymentTooSmall indicates a partial payment below the computed
	// minimum for the current period.
	ErrRepaymentTooSmall = errors.New("repayment controller: amount below minimum due")
	// ErrNoPaymentDue indicates the current installment period is already
	// satisfied.
	ErrNoPaymentDue = errors.New("repayment controller: no payment due")
)

// Controller is the repayment entry point borrowers and integrators interact
// with. It resolves notes to loans, prices the payment through the accounting
// functions, and drives the registry transitions under its repayer role.
type Controller struct {
	registry      *Registry
	borrowerNotes NoteBook
	lenderNotes   NoteBook
	moduleAddress crypto.Address
	nowFn         func() int64
}

// NewController constructs a repayment controller acting under the supplied
// module address. The address must hold the repayer role in the registry's
// capability table.
func NewController(registry *Registry, borrowerNotes, lenderNotes NoteBook, moduleAddr crypto.Address) *Controller {
	return &Controller{
		registry:      registry,
		borrowerNotes: borrowerNotes,
		lenderNotes:   lenderNotes,
		moduleAddress: moduleAddr,
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (c *Controller) SetNowFunc(now func() int64) {
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

func (c *Controller) now() int64 {
	if c == nil || c.nowFn == nil {
		return time.Now().Unix()
	}
	return c.nowFn()
}

// Repay settles a bullet loan in full with funds drawn from the caller.
func (c *Controller) Repay(caller crypto.Address, loanID uint64) error {
	return c.registry.Repay(c.moduleAddress, caller, loanID)
}

// Claim hands defaulted collateral to the lender. The caller must hold the
// lender note for the loan.
func (c *Controller) Claim(caller crypto.Address, lenderNoteID uint64) error {
	loanID, ok, err := c.lenderNotes.LoanByNote(lenderNoteID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoteNotFound
	}
	owner, ok, err := c.lenderNotes.OwnerOf(lenderNoteID)
	if err != nil {
		return err
	}
	if !ok || !owner.Equal(caller) {
		return ErrNotNoteHolder
	}
	return c.registry.Claim(c.moduleAddress, loanID)
}

// GetInstallmentMinPayment prices the minimum payment currently due on the
// loan referenced by the borrower note.
func (c *Controller) GetInstallmentMinPayment(borrowerNoteID uint64) (InstallmentDue, error) {
	_, record, err := c.resolveLoan(borrowerNoteID)
	if err != nil {
		return InstallmentDue{}, err
	}
	return c.priceInstallment(record)
}

// RepayPartMinimum pays exactly the computed minimum (interest plus late
// fees) for the current period with funds drawn from the caller.
func (c *Controller) RepayPartMinimum(caller crypto.Address, borrowerNoteID uint64) error {
	loanID, record, err := c.resolveLoan(borrowerNoteID)
	if err != nil {
		return err
	}
	due, err := c.priceInstallment(record)
	if err != nil {
		return err
	}
	total := due.Total()
	if total.Sign() == 0 {
		return ErrNoPaymentDue
	}
	return c.registry.RepayPart(c.moduleAddress, caller, loanID, total, due.LateFees, due.MissedPayments)
}

// RepayPart pays the supplied amount, which must cover at least the computed
// minimum for the current period. Any amount beyond the minimum reduces the
// outstanding balance.
func (c *Controller) RepayPart(caller crypto.Address, borrowerNoteID uint64, amount *big.Int) error {
	loanID, record, err := c.resolveLoan(borrowerNoteID)
	if err != nil {
		return err
	}
	due, err := c.priceInstallment(record)
	if err != nil {
		return err
	}
	if amount == nil || amount.Cmp(due.Total()) < 0 {
		return ErrRepaymentTooSmall
	}
	return c.registry.RepayPart(c.moduleAddress, caller, loanID, amount, due.LateFees, due.MissedPayments)
}

// CloseLoan extinguishes an installment loan in one payment: the outstanding
// balance plus the current period's interest and any accrued late fees.
func (c *Controller) CloseLoan(caller crypto.Address, borrowerNoteID uint64) error {
	loanID, record, err := c.resolveLoan(borrowerNoteID)
	if err != nil {
		return err
	}
	due, err := c.priceInstallment(record)
	if err != nil {
		return err
	}
	amount := cloneBigInt(record.Balance)
	amount.Add(amount, due.MinBalanceDue)
	amount.Add(amount, due.LateFees)
	return c.registry.RepayPart(c.moduleAddress, caller, loanID, amount, due.LateFees, due.MissedPayments)
}

// AmountDue reports the full settlement amount of a bullet loan.
func (c *Controller) AmountDue(loanID uint64) (*big.Int, error) {
	record, err := c.registry.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	return FullInterestAmount(record.Terms.Principal, record.Terms.InterestRate)
}

func (c *Controller) resolveLoan(borrowerNoteID uint64) (uint64, *LoanData, error) {
	loanID, ok, err := c.borrowerNotes.LoanByNote(borrowerNoteID)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, ErrNoteNotFound
	}
	record, err := c.registry.GetLoan(loanID)
	if err != nil {
		return 0, nil, err
	}
	return loanID, record, nil
}

func (c *Controller) priceInstallment(record *LoanData) (InstallmentDue, error) {
	return CalcInstallment(InstallmentQuery{
		Balance:          record.Balance,
		StartDate:        record.Terms.StartDate,
		DurationSecs:     record.Terms.DurationSecs,
		NumInstallments:  record.Terms.NumInstallments,
		InterestRate:     record.Terms.InterestRate,
		InstallmentsPaid: record.NumInstallmentsPaid,
		Now:              c.now(),
	})
}
