// Package origination verifies counterparty signatures over loan terms and
// drives the create-then-start handshake against the loan registry. A single
// transaction from either party, carrying the other party's signature,
// originates a funded loan.
package origination

import (
	"errors"
	"time"

	"nftlend/crypto"
	"nftlend/native/loan"
)

var (
	errNilRegistry = errors.New("origination: registry not configured")

	// ErrInvalidSignature indicates the signature is malformed or does not
	// recover to a usable key.
	ErrInvalidSignature = errors.New("origination: invalid signature")
	// ErrUnauthorizedCaller indicates the transaction sender is neither the
	// borrower nor the lender named in the terms.
	ErrUnauthorizedCaller = errors.New("origination: caller is not a party to the loan")
	// ErrSignerMismatch indicates the recovered signer is not the caller's
	// counterparty. Self-signed originations are rejected on this path.
	ErrSignerMismatch = errors.New("origination: signature does not match counterparty")
	// ErrPermitExpired indicates the collateral permit deadline has passed.
	ErrPermitExpired = errors.New("origination: permit deadline expired")
	// ErrCollateralWithdrawable indicates the pledged vault is in withdrawal
	// mode and could be drained between signing and funding.
	ErrCollateralWithdrawable = errors.New("origination: collateral vault has withdrawals enabled")
)

// RegistryGateway is the capability the engine holds over the loan registry.
type RegistryGateway interface {
	CreateLoan(caller crypto.Address, terms loan.LoanTerms) (uint64, error)
	StartLoan(caller, lender, borrower crypto.Address, loanID uint64) error
}

// Engine validates signed originations. It acts against the registry under its
// own module address, which must hold the originator role.
type Engine struct {
	registry      RegistryGateway
	collateral    CollateralInspector
	moduleAddress crypto.Address
	registryAddr  crypto.Address
	nowFn         func() int64
}

// NewEngine constructs an origination engine. The registry address seeds the
// signing domain so digests are bound to this deployment.
func NewEngine(registry RegistryGateway, moduleAddr, registryAddr crypto.Address) *Engine {
	return &Engine{
		registry:      registry,
		moduleAddress: moduleAddr,
		registryAddr:  registryAddr,
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetCollateralInspector wires the vault view consulted before funds move.
// Without one, withdrawal-mode and item-set checks are skipped.
func (e *Engine) SetCollateralInspector(inspector CollateralInspector) {
	e.collateral = inspector
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// counterparty validates that the caller is a party to the terms and that the
// recovered signer is the opposite party.
func counterparty(caller, borrower, lender, signer crypto.Address) error {
	switch {
	case caller.Equal(borrower):
		if !signer.Equal(lender) {
			return ErrSignerMismatch
		}
	case caller.Equal(lender):
		if !signer.Equal(borrower) {
			return ErrSignerMismatch
		}
	default:
		return ErrUnauthorizedCaller
	}
	return nil
}

func (e *Engine) checkCollateral(collateralID uint64) error {
	if e.collateral == nil {
		return nil
	}
	enabled, err := e.collateral.IsWithdrawalEnabled(collateralID)
	if err != nil {
		return err
	}
	if enabled {
		return ErrCollateralWithdrawable
	}
	return nil
}

// InitializeLoan originates a loan from signed terms. The caller must be the
// borrower or the lender; sig must be the counterparty's signature over
// TermsDigest. On success the loan is created and immediately started, so the
// returned id references an active, funded loan.
func (e *Engine) InitializeLoan(caller, borrower, lender crypto.Address, terms loan.LoanTerms, sig []byte) (uint64, error) {
	if e == nil || e.registry == nil {
		return 0, errNilRegistry
	}
	signer, err := RecoverSigner(TermsDigest(e.registryAddr, terms), sig)
	if err != nil {
		return 0, err
	}
	if err := counterparty(caller, borrower, lender, signer); err != nil {
		return 0, err
	}
	if err := e.checkCollateral(terms.CollateralID); err != nil {
		return 0, err
	}
	return e.originate(borrower, lender, terms)
}

// InitializeLoanWithPermit originates from a permit-style signature that also
// carries a deadline. The deadline bounds how long a signed offer stays
// fundable.
func (e *Engine) InitializeLoanWithPermit(caller, borrower, lender crypto.Address, terms loan.LoanTerms, deadline int64, sig []byte) (uint64, error) {
	if e == nil || e.registry == nil {
		return 0, errNilRegistry
	}
	if e.now() > deadline {
		return 0, ErrPermitExpired
	}
	signer, err := RecoverSigner(PermitDigest(e.registryAddr, terms, deadline), sig)
	if err != nil {
		return 0, err
	}
	if err := counterparty(caller, borrower, lender, signer); err != nil {
		return 0, err
	}
	if err := e.checkCollateral(terms.CollateralID); err != nil {
		return 0, err
	}
	return e.originate(borrower, lender, terms)
}

func (e *Engine) originate(borrower, lender crypto.Address, terms loan.LoanTerms) (uint64, error) {
	loanID, err := e.registry.CreateLoan(e.moduleAddress, terms)
	if err != nil {
		return 0, err
	}
	if err := e.registry.StartLoan(e.moduleAddress, lender, borrower, loanID); err != nil {
		return 0, err
	}
	return loanID, nil
}
