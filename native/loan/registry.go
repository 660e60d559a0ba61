package loan

import (
	"errors"
	"math/big"
	"time"

	"nftlend/core/events"
	"nftlend/core/types"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
)

var (
	errNilState      = errors.New("loan registry: state not configured")
	errNilNotes      = errors.New("loan registry: note books not configured")
	errNilCollateral = errors.New("loan registry: collateral gateway not configured")

	// ErrLoanNotFound indicates the loan id does not reference a stored record.
	ErrLoanNotFound = errors.New("loan registry: loan not found")
	// ErrInvalidLoanState indicates the requested transition is not legal
	// from the loan's current state.
	ErrInvalidLoanState = errors.New("loan registry: invalid loan state for transition")
	// ErrLoanAlreadyExpired indicates terms that would produce a loan with no
	// lifetime: zero duration and no installment schedule.
	ErrLoanAlreadyExpired = errors.New("loan registry: loan terms already expired")
	// ErrCollateralInUse indicates the collateral bundle already backs a
	// non-terminal loan.
	ErrCollateralInUse = errors.New("loan registry: collateral already in use")
	// ErrLoanNotExpired indicates a claim attempted before the due date.
	ErrLoanNotExpired = errors.New("loan registry: loan due date not reached")
	// ErrInsufficientFunds indicates the paying party cannot cover the
	// required transfer.
	ErrInsufficientFunds = errors.New("loan registry: insufficient funds")
	// ErrInvalidRepayment indicates a partial payment outside the acceptable
	// bounds for the loan's outstanding balance.
	ErrInvalidRepayment = errors.New("loan registry: invalid repayment amount")
	// ErrReentrantCall indicates a state-mutating entry point was re-entered
	// while a prior transition was still in flight.
	ErrReentrantCall = errors.New("loan registry: reentrant call")
	// ErrInvalidTerms indicates structurally unusable loan terms.
	ErrInvalidTerms = errors.New("loan registry: invalid loan terms")
)

const moduleName = "loan"

// Roles gating the registry entry points. The capability table holding the
// grants is injected at construction.
const (
	RoleOriginator nativecommon.Role = "loan.originator"
	RoleRepayer    nativecommon.Role = "loan.repayer"
	RoleAdmin      nativecommon.Role = "loan.admin"
)

type registryState interface {
	LoanGet(id uint64) (*LoanData, bool, error)
	LoanPut(*LoanData) error
	NextLoanID() (uint64, error)
	CollateralInUse(collateralID uint64) (bool, error)
	SetCollateralInUse(collateralID uint64, inUse bool) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// NoteBook is the narrow capability the registry holds over a promissory note
// registry. The registry passes its own module address as the caller.
type NoteBook interface {
	Mint(caller, to crypto.Address, loanID uint64) (uint64, error)
	Burn(caller crypto.Address, noteID uint64) error
	OwnerOf(noteID uint64) (crypto.Address, bool, error)
	LoanByNote(noteID uint64) (uint64, bool, error)
}

// CollateralGateway is the narrow capability the registry holds over the
// vault arena. Collateral leaves a locked vault only through Release.
type CollateralGateway interface {
	Lock(collateralID uint64, from crypto.Address) error
	Release(collateralID uint64, to crypto.Address) error
	IsWithdrawalEnabled(collateralID uint64) (bool, error)
}

// FeeSource supplies the origination fee deducted from principal at loan
// start, in basis points.
type FeeSource interface {
	OriginationFeeBps() uint64
}

type loanEvent struct {
	evt *types.Event
}

func (e loanEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e loanEvent) Event() *types.Event { return e.evt }

// Registry is the authoritative loan state machine. It exclusively owns loan
// records and the collateral in-use flags; notes and vault custody are reached
// through injected capabilities.
type Registry struct {
	state         registryState
	borrowerNotes NoteBook
	lenderNotes   NoteBook
	collateral    CollateralGateway
	fees          FeeSource
	roles         *nativecommon.RoleTable
	pauses        nativecommon.PauseView
	emitter       events.Emitter
	moduleAddress crypto.Address
	feeTreasury   crypto.Address
	nowFn         func() int64
	busy          bool
}

// NewRegistry constructs a loan registry bound to its module address, fee
// treasury and capability table.
func NewRegistry(moduleAddr, feeTreasury crypto.Address, roles *nativecommon.RoleTable) *Registry {
	return &Registry{
		moduleAddress: moduleAddr,
		feeTreasury:   feeTreasury,
		roles:         roles,
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the registry to the external persistence layer.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetNoteBooks configures the borrower and lender note capabilities.
func (r *Registry) SetNoteBooks(borrower, lender NoteBook) {
	r.borrowerNotes = borrower
	r.lenderNotes = lender
}

// SetCollateralGateway configures the vault capability.
func (r *Registry) SetCollateralGateway(gateway CollateralGateway) { r.collateral = gateway }

// SetFeeSource replaces the origination fee source. Restricted to admin
// principals.
func (r *Registry) SetFeeSource(caller crypto.Address, fees FeeSource) error {
	if err := nativecommon.RequireRole(r.roles, caller, RoleAdmin); err != nil {
		return err
	}
	r.fees = fees
	return nil
}

// SetPauses wires the pause switchboard consulted before every transition.
func (r *Registry) SetPauses(p nativecommon.PauseView) { r.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// ModuleAddress returns the address the registry transacts under.
func (r *Registry) ModuleAddress() crypto.Address { return r.moduleAddress }

func (r *Registry) now() int64 {
	if r == nil || r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

func (r *Registry) emit(event *types.Event) {
	if r == nil || r.emitter == nil || event == nil {
		return
	}
	r.emitter.Emit(loanEvent{evt: event})
}

// enter marks the registry busy for the duration of a transition that ends in
// asset transfers, closing the reentrancy window a transfer callback could
// otherwise exploit.
func (r *Registry) enter() error {
	if r.busy {
		return ErrReentrantCall
	}
	r.busy = true
	return nil
}

func (r *Registry) exit() { r.busy = false }

func (r *Registry) loadLoan(id uint64) (*LoanData, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	record, ok, err := r.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || record == nil || !record.State.Valid() {
		return nil, ErrLoanNotFound
	}
	return record, nil
}

func (r *Registry) feeBps() uint64 {
	if r == nil || r.fees == nil {
		return 0
	}
	return r.fees.OriginationFeeBps()
}

// transfer moves currency between two account ledgers. State mutation of the
// loan record must already be persisted before this runs.
func (r *Registry) transfer(from, to crypto.Address, currency string, amount *big.Int) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return ErrInvalidRepayment
	}
	fromAcc, err := r.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := r.state.GetAccount(to)
	if err != nil {
		return err
	}
	if fromAcc.Balance(currency).Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.SetBalance(currency, new(big.Int).Sub(fromAcc.Balance(currency), amt))
	toAcc.SetBalance(currency, new(big.Int).Add(toAcc.Balance(currency), amt))
	if err := r.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return r.state.PutAccount(to, toAcc)
}

// CreateLoan validates the signed terms, allocates a loan id and stores the
// record in the created state, marking the collateral in use. Restricted to
// originator principals.
func (r *Registry) CreateLoan(caller crypto.Address, terms LoanTerms) (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return 0, err
	}
	if err := nativecommon.RequireRole(r.roles, caller, RoleOriginator); err != nil {
		return 0, err
	}
	if terms.Principal == nil || terms.Principal.Sign() <= 0 || terms.PayableCurrency == "" {
		return 0, ErrInvalidTerms
	}
	if terms.DurationSecs == 0 && !terms.Installment() {
		return 0, ErrLoanAlreadyExpired
	}
	inUse, err := r.state.CollateralInUse(terms.CollateralID)
	if err != nil {
		return 0, err
	}
	if inUse {
		return 0, ErrCollateralInUse
	}
	id, err := r.state.NextLoanID()
	if err != nil {
		return 0, err
	}
	now := r.now()
	record := &LoanData{
		ID:              id,
		Terms:           terms.Clone(),
		State:           LoanStateCreated,
		DueDate:         now + int64(terms.DurationSecs),
		CreatedAt:       now,
		Balance:         cloneBigInt(terms.Principal),
		BalancePaid:     big.NewInt(0),
		LateFeesAccrued: big.NewInt(0),
	}
	if err := r.state.LoanPut(record); err != nil {
		return 0, err
	}
	if err := r.state.SetCollateralInUse(terms.CollateralID, true); err != nil {
		return 0, err
	}
	r.emit(NewCreatedEvent(record))
	return id, nil
}

// StartLoan activates a created loan: collateral custody moves to the
// registry, both promissory notes are minted, and the lender's principal is
// paid out to the borrower net of the origination fee. Restricted to
// originator principals.
func (r *Registry) StartLoan(caller, lender, borrower crypto.Address, loanID uint64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if r.borrowerNotes == nil || r.lenderNotes == nil {
		return errNilNotes
	}
	if r.collateral == nil {
		return errNilCollateral
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(r.roles, caller, RoleOriginator); err != nil {
		return err
	}
	if err := r.enter(); err != nil {
		return err
	}
	defer r.exit()

	record, err := r.loadLoan(loanID)
	if err != nil {
		return err
	}
	if record.State != LoanStateCreated {
		return ErrInvalidLoanState
	}

	borrowerNoteID, err := r.borrowerNotes.Mint(r.moduleAddress, borrower, loanID)
	if err != nil {
		return err
	}
	lenderNoteID, err := r.lenderNotes.Mint(r.moduleAddress, lender, loanID)
	if err != nil {
		return err
	}

	record.BorrowerNoteID = borrowerNoteID
	record.LenderNoteID = lenderNoteID
	record.State = LoanStateActive
	if err := r.state.LoanPut(record); err != nil {
		return err
	}

	if err := r.collateral.Lock(record.Terms.CollateralID, borrower); err != nil {
		return err
	}

	principal := cloneBigInt(record.Terms.Principal)
	currency := record.Terms.PayableCurrency
	fee := bpsShare(principal, r.feeBps())
	payout := new(big.Int).Sub(principal, fee)
	if err := r.transfer(lender, r.moduleAddress, currency, principal); err != nil {
		return err
	}
	if err := r.transfer(r.moduleAddress, borrower, currency, payout); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := r.transfer(r.moduleAddress, r.feeTreasury, currency, fee); err != nil {
			return err
		}
	}
	r.emit(NewStartedEvent(record))
	return nil
}

// Repay settles a bullet loan in full: the payer covers principal plus
// interest, both notes are burned, the collateral returns to the borrower
// note holder and the funds flow to the lender note holder. All record
// mutation happens before any transfer. Restricted to repayer principals.
func (r *Registry) Repay(caller, payer crypto.Address, loanID uint64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(r.roles, caller, RoleRepayer); err != nil {
		return err
	}
	if err := r.enter(); err != nil {
		return err
	}
	defer r.exit()

	record, err := r.loadLoan(loanID)
	if err != nil {
		return err
	}
	if record.State != LoanStateActive {
		return ErrInvalidLoanState
	}
	if record.Terms.Installment() {
		return ErrInvalidLoanState
	}
	amountDue, err := FullInterestAmount(record.Terms.Principal, record.Terms.InterestRate)
	if err != nil {
		return err
	}

	borrowerOwner, lenderOwner, err := r.noteOwners(record)
	if err != nil {
		return err
	}

	record.State = LoanStateRepaid
	record.Balance = big.NewInt(0)
	record.BalancePaid = new(big.Int).Add(record.BalancePaid, amountDue)
	if err := r.closeLoanRecord(record); err != nil {
		return err
	}

	if err := r.transfer(payer, lenderOwner, record.Terms.PayableCurrency, amountDue); err != nil {
		return err
	}
	if err := r.collateral.Release(record.Terms.CollateralID, borrowerOwner); err != nil {
		return err
	}
	r.emit(NewRepaidEvent(record))
	return nil
}

// RepayPart applies an installment payment. The repayment controller has
// already validated the amount against the computed minimum; the registry
// still bounds it against the outstanding balance. Late fees are collected as
// revenue while the remainder reduces the balance; a payment extinguishing
// the balance closes the loan exactly like a bullet repayment.
func (r *Registry) RepayPart(caller, payer crypto.Address, loanID uint64, amount, lateFees *big.Int, numMissed uint64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(r.roles, caller, RoleRepayer); err != nil {
		return err
	}
	if err := r.enter(); err != nil {
		return err
	}
	defer r.exit()

	record, err := r.loadLoan(loanID)
	if err != nil {
		return err
	}
	if record.State != LoanStateActive || !record.Terms.Installment() {
		return ErrInvalidLoanState
	}
	amt := cloneBigInt(amount)
	fees := cloneBigInt(lateFees)
	if amt.Sign() <= 0 || fees.Sign() < 0 || fees.Cmp(amt) > 0 {
		return ErrInvalidRepayment
	}
	// The payment net of late fees reduces the balance; anything beyond the
	// outstanding balance is the interest portion of a close-out and flows to
	// the lender without further reduction.
	reduction := new(big.Int).Sub(amt, fees)
	if reduction.Cmp(record.Balance) > 0 {
		reduction = cloneBigInt(record.Balance)
	}

	record.Balance = new(big.Int).Sub(record.Balance, reduction)
	record.BalancePaid = new(big.Int).Add(record.BalancePaid, amt)
	record.LateFeesAccrued = new(big.Int).Add(record.LateFeesAccrued, fees)
	record.NumInstallmentsPaid++
	record.NumMissedPayments = numMissed

	borrowerOwner, lenderOwner, err := r.noteOwners(record)
	if err != nil {
		return err
	}

	closed := record.Balance.Sign() == 0
	if closed {
		record.State = LoanStateRepaid
		if err := r.closeLoanRecord(record); err != nil {
			return err
		}
	} else if err := r.state.LoanPut(record); err != nil {
		return err
	}

	if err := r.transfer(payer, lenderOwner, record.Terms.PayableCurrency, amt); err != nil {
		return err
	}
	if closed {
		if err := r.collateral.Release(record.Terms.CollateralID, borrowerOwner); err != nil {
			return err
		}
		r.emit(NewRepaidEvent(record))
		return nil
	}
	r.emit(NewPaymentEvent(record))
	return nil
}

// Claim transitions an expired active loan to defaulted and releases the
// collateral to the lender note holder. No currency moves. Restricted to
// repayer principals; loans without an absolute due date cannot be claimed.
func (r *Registry) Claim(caller crypto.Address, loanID uint64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(r.roles, caller, RoleRepayer); err != nil {
		return err
	}
	if err := r.enter(); err != nil {
		return err
	}
	defer r.exit()

	record, err := r.loadLoan(loanID)
	if err != nil {
		return err
	}
	if record.State != LoanStateActive {
		return ErrInvalidLoanState
	}
	if record.Terms.DurationSecs == 0 || r.now() <= record.DueDate {
		return ErrLoanNotExpired
	}

	_, lenderOwner, err := r.noteOwners(record)
	if err != nil {
		return err
	}

	record.State = LoanStateDefaulted
	if err := r.closeLoanRecord(record); err != nil {
		return err
	}
	if err := r.collateral.Release(record.Terms.CollateralID, lenderOwner); err != nil {
		return err
	}
	r.emit(NewClaimedEvent(record))
	return nil
}

// GetLoan returns a deep copy of the stored record.
func (r *Registry) GetLoan(loanID uint64) (*LoanData, error) {
	record, err := r.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// IsActive reports whether the loan exists and is in the active state. Note
// registries consult this before permitting a holder-initiated burn.
func (r *Registry) IsActive(loanID uint64) (bool, error) {
	record, err := r.loadLoan(loanID)
	if errors.Is(err, ErrLoanNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.State == LoanStateActive, nil
}

// SweepToken recovers stray funds from the registry's module account. The
// registry never retains balances across transitions (fees are forwarded to
// the treasury at start), so anything found here was sent by mistake.
// Restricted to admin principals.
func (r *Registry) SweepToken(caller, to crypto.Address, currency string, amount *big.Int) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := nativecommon.RequireRole(r.roles, caller, RoleAdmin); err != nil {
		return err
	}
	if err := r.transfer(r.moduleAddress, to, currency, amount); err != nil {
		return err
	}
	r.emit(&types.Event{Type: EventTypeTokenSwept, Attributes: map[string]string{
		"currency": currency,
		"amount":   cloneBigInt(amount).String(),
	}})
	return nil
}

// noteOwners resolves the current holders of both notes. Owners are read
// before the notes are burned during a terminal transition.
func (r *Registry) noteOwners(record *LoanData) (crypto.Address, crypto.Address, error) {
	if r.borrowerNotes == nil || r.lenderNotes == nil {
		return crypto.Address{}, crypto.Address{}, errNilNotes
	}
	borrowerOwner, ok, err := r.borrowerNotes.OwnerOf(record.BorrowerNoteID)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	if !ok {
		return crypto.Address{}, crypto.Address{}, ErrLoanNotFound
	}
	lenderOwner, ok, err := r.lenderNotes.OwnerOf(record.LenderNoteID)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	if !ok {
		return crypto.Address{}, crypto.Address{}, ErrLoanNotFound
	}
	return borrowerOwner, lenderOwner, nil
}

// closeLoanRecord persists a terminal record, clears the collateral in-use
// flag and burns both notes. Asset transfers happen strictly afterwards.
func (r *Registry) closeLoanRecord(record *LoanData) error {
	if err := r.state.LoanPut(record); err != nil {
		return err
	}
	if err := r.state.SetCollateralInUse(record.Terms.CollateralID, false); err != nil {
		return err
	}
	if err := r.borrowerNotes.Burn(r.moduleAddress, record.BorrowerNoteID); err != nil {
		return err
	}
	return r.lenderNotes.Burn(r.moduleAddress, record.LenderNoteID)
}
