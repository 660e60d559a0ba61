// Package rollover refinances an active bullet loan into a fresh loan in a
// single transaction. The engine draws the settlement amount from a flash
// pool, repays and closes the old loan while briefly holding the borrower
// note, originates the new loan against the same collateral, and settles any
// difference with the borrower.
package rollover

import (
	"errors"
	"math/big"
	"strconv"

	"nftlend/core/events"
	"nftlend/core/types"
	"nftlend/crypto"
	"nftlend/native/loan"
)

var (
	errNilDeps = errors.New("rollover: dependencies not configured")

	// ErrNotNoteHolder indicates the caller does not hold the borrower note
	// of the loan being rolled.
	ErrNotNoteHolder = errors.New("rollover: caller does not hold borrower note")
	// ErrNotBulletLoan indicates an attempt to roll an installment loan.
	ErrNotBulletLoan = errors.New("rollover: only bullet loans can be rolled")
	// ErrCurrencyMismatch indicates the new terms use a different payable
	// currency than the loan being retired.
	ErrCurrencyMismatch = errors.New("rollover: payable currency mismatch")
	// ErrCollateralMismatch indicates the new terms reference different
	// collateral than the loan being retired.
	ErrCollateralMismatch = errors.New("rollover: collateral mismatch")
	// ErrCustodyLost indicates the collateral did not land in engine custody
	// after the old loan closed.
	ErrCustodyLost = errors.New("rollover: collateral custody not acquired")
	// ErrAccountingInvariant indicates the settlement produced both a
	// leftover owed to the borrower and a shortfall drawn from them.
	ErrAccountingInvariant = errors.New("rollover: leftover and shortfall both non-zero")
	// ErrReentrantCall indicates the rollover entry point was re-entered.
	ErrReentrantCall = errors.New("rollover: reentrant call")
)

// EventTypeRollover marks a completed refinance.
const EventTypeRollover = "loan.rolled_over"

// LoanGateway is the registry capability the engine needs: reading records and
// driving the bullet repayment under the engine's repayer role.
type LoanGateway interface {
	GetLoan(loanID uint64) (*loan.LoanData, error)
	Repay(caller, payer crypto.Address, loanID uint64) error
}

// Originator originates the replacement loan from the lender's signature.
type Originator interface {
	InitializeLoan(caller, borrower, lender crypto.Address, terms loan.LoanTerms, sig []byte) (uint64, error)
}

// NoteGateway moves the borrower note through engine custody.
type NoteGateway interface {
	Transfer(caller crypto.Address, noteID uint64, to crypto.Address) error
	OwnerOf(noteID uint64) (crypto.Address, bool, error)
	LoanByNote(noteID uint64) (uint64, bool, error)
}

// VaultView confirms collateral custody between the close and the reopen.
type VaultView interface {
	OwnerOf(vaultID uint64) (crypto.Address, bool, error)
}

// FlashLender supplies same-transaction liquidity for the settlement.
type FlashLender interface {
	Premium(amount *big.Int) *big.Int
	Flash(to crypto.Address, currency string, amount *big.Int, fn func() error) error
}

type ledgerState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Engine executes rollovers under its own module address, which must hold the
// repayer role in the loan registry's capability table.
type Engine struct {
	loans         LoanGateway
	originator    Originator
	borrowerNotes NoteGateway
	vaults        VaultView
	flash         FlashLender
	fees          loan.FeeSource
	state         ledgerState
	emitter       events.Emitter
	moduleAddress crypto.Address
	busy          bool
}

// NewEngine constructs a rollover engine bound to its module address.
func NewEngine(moduleAddr crypto.Address) *Engine {
	return &Engine{moduleAddress: moduleAddr, emitter: events.NoopEmitter{}}
}

// SetDependencies wires the capabilities the engine drives.
func (e *Engine) SetDependencies(loans LoanGateway, originator Originator, borrowerNotes NoteGateway, vaults VaultView, flash FlashLender, fees loan.FeeSource) {
	e.loans = loans
	e.originator = originator
	e.borrowerNotes = borrowerNotes
	e.vaults = vaults
	e.flash = flash
	e.fees = fees
}

// SetState wires the engine to the account ledger.
func (e *Engine) SetState(state ledgerState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

type rolloverEvent struct {
	evt *types.Event
}

func (ev rolloverEvent) EventType() string {
	if ev.evt == nil {
		return ""
	}
	return ev.evt.Type
}

func (ev rolloverEvent) Event() *types.Event { return ev.evt }

func (e *Engine) ready() error {
	if e == nil || e.loans == nil || e.originator == nil || e.borrowerNotes == nil ||
		e.vaults == nil || e.flash == nil || e.state == nil {
		return errNilDeps
	}
	return nil
}

func (e *Engine) feeBps() uint64 {
	if e.fees == nil {
		return 0
	}
	return e.fees.OriginationFeeBps()
}

// RolloverLoan retires the caller's bullet loan and replaces it with a loan on
// the supplied terms from a new lender, against the same collateral. The
// caller must hold the borrower note; lenderSig authorizes the new terms.
// Exactly one of the settlement legs is non-zero: either a leftover flows to
// the caller or a shortfall is drawn from them up front.
func (e *Engine) RolloverLoan(caller, lender crypto.Address, oldNoteID uint64, newTerms loan.LoanTerms, lenderSig []byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if e.busy {
		return 0, ErrReentrantCall
	}
	e.busy = true
	defer func() { e.busy = false }()

	oldLoanID, ok, err := e.borrowerNotes.LoanByNote(oldNoteID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotNoteHolder
	}
	owner, ok, err := e.borrowerNotes.OwnerOf(oldNoteID)
	if err != nil {
		return 0, err
	}
	if !ok || !owner.Equal(caller) {
		return 0, ErrNotNoteHolder
	}

	oldRecord, err := e.loans.GetLoan(oldLoanID)
	if err != nil {
		return 0, err
	}
	if oldRecord.State != loan.LoanStateActive {
		return 0, loan.ErrInvalidLoanState
	}
	if oldRecord.Terms.Installment() {
		return 0, ErrNotBulletLoan
	}
	if newTerms.PayableCurrency != oldRecord.Terms.PayableCurrency {
		return 0, ErrCurrencyMismatch
	}
	if newTerms.CollateralID != oldRecord.Terms.CollateralID {
		return 0, ErrCollateralMismatch
	}

	currency := oldRecord.Terms.PayableCurrency
	collateralID := oldRecord.Terms.CollateralID
	amountDue, err := loan.FullInterestAmount(oldRecord.Terms.Principal, oldRecord.Terms.InterestRate)
	if err != nil {
		return 0, err
	}

	// Settlement arithmetic up front: the new loan pays out principal net of
	// the origination fee, and the engine owes the flash pool the old
	// settlement plus premium. The difference is the borrower's leg.
	premium := e.flash.Premium(amountDue)
	owed := new(big.Int).Add(amountDue, premium)
	if newTerms.Principal == nil || newTerms.Principal.Sign() <= 0 {
		return 0, loan.ErrInvalidTerms
	}
	principal := new(big.Int).Set(newTerms.Principal)
	fee := new(big.Int).Mul(principal, new(big.Int).SetUint64(e.feeBps()))
	fee.Quo(fee, big.NewInt(10_000))
	payout := new(big.Int).Sub(principal, fee)

	leftover := big.NewInt(0)
	shortfall := big.NewInt(0)
	if payout.Cmp(owed) >= 0 {
		leftover.Sub(payout, owed)
	} else {
		shortfall.Sub(owed, payout)
	}
	if leftover.Sign() > 0 && shortfall.Sign() > 0 {
		return 0, ErrAccountingInvariant
	}

	// The engine takes the borrower note so the collateral release from the
	// close lands in its custody, and any shortfall is collected before any
	// external funds are touched.
	if err := e.borrowerNotes.Transfer(caller, oldNoteID, e.moduleAddress); err != nil {
		return 0, err
	}
	if shortfall.Sign() > 0 {
		if err := e.move(caller, e.moduleAddress, currency, shortfall); err != nil {
			return 0, err
		}
	}

	var newLoanID uint64
	err = e.flash.Flash(e.moduleAddress, currency, amountDue, func() error {
		if err := e.loans.Repay(e.moduleAddress, e.moduleAddress, oldLoanID); err != nil {
			return err
		}
		vaultOwner, ok, err := e.vaults.OwnerOf(collateralID)
		if err != nil {
			return err
		}
		if !ok || !vaultOwner.Equal(e.moduleAddress) {
			return ErrCustodyLost
		}
		id, err := e.originator.InitializeLoan(e.moduleAddress, e.moduleAddress, lender, newTerms, lenderSig)
		if err != nil {
			return err
		}
		newLoanID = id
		return nil
	})
	if err != nil {
		return 0, err
	}

	if leftover.Sign() > 0 {
		if err := e.move(e.moduleAddress, caller, currency, leftover); err != nil {
			return 0, err
		}
	}

	newRecord, err := e.loans.GetLoan(newLoanID)
	if err != nil {
		return 0, err
	}
	if err := e.borrowerNotes.Transfer(e.moduleAddress, newRecord.BorrowerNoteID, caller); err != nil {
		return 0, err
	}

	e.emitter.Emit(rolloverEvent{evt: &types.Event{
		Type: EventTypeRollover,
		Attributes: map[string]string{
			"oldLoanId": strconv.FormatUint(oldLoanID, 10),
			"newLoanId": strconv.FormatUint(newLoanID, 10),
			"borrower":  caller.String(),
			"lender":    lender.String(),
			"leftover":  leftover.String(),
			"shortfall": shortfall.String(),
		},
	}})
	return newLoanID, nil
}

func (e *Engine) move(from, to crypto.Address, currency string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	if fromAcc.Balance(currency).Cmp(amount) < 0 {
		return loan.ErrInsufficientFunds
	}
	fromAcc.SetBalance(currency, new(big.Int).Sub(fromAcc.Balance(currency), amount))
	toAcc.SetBalance(currency, new(big.Int).Add(toAcc.Balance(currency), amount))
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}
