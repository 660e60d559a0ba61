// Package loand assembles the protocol engines behind the lending API daemon.
package loand

import (
	"math/big"
	"time"

	nodecfg "nftlend/config"
	"nftlend/crypto"
	"nftlend/native/loan"
	"nftlend/native/note"
	"nftlend/native/origination"
	"nftlend/native/rollover"
	"nftlend/native/vault"
	"nftlend/observability"
	"nftlend/storage/loanstore"
)

// Protocol wires every engine to a shared store and exposes the operations the
// HTTP handlers call. Each mutating call runs inside a store transition so a
// failure midway through a multi-engine flow leaves no partial state behind.
type Protocol struct {
	store         *loanstore.Store
	registry      *loan.Registry
	controller    *loan.Controller
	borrowerNotes *note.Engine
	lenderNotes   *note.Engine
	vaults        *vault.Engine
	origination   *origination.Engine
	rollover      *rollover.Engine
	pool          *rollover.Pool
	adminAddress  crypto.Address
}

// NewProtocol constructs the engine graph from the node configuration.
func NewProtocol(cfg *nodecfg.Config, store *loanstore.Store) (*Protocol, error) {
	registryAddr := crypto.ModuleAddress("loan")
	repayAddr := crypto.ModuleAddress("loan.repayment")
	originationAddr := crypto.ModuleAddress("origination")
	rolloverAddr := crypto.ModuleAddress("rollover")
	adminAddr := crypto.ModuleAddress("admin")

	treasury := crypto.ModuleAddress("treasury")
	if cfg.Protocol.FeeTreasury != "" {
		treasury = crypto.MustDecodeAddress(cfg.Protocol.FeeTreasury)
	}
	flashReserve := crypto.ModuleAddress("flash.reserve")
	if cfg.Protocol.FlashReserve != "" {
		flashReserve = crypto.MustDecodeAddress(cfg.Protocol.FlashReserve)
	}

	roles, err := cfg.RoleTable()
	if err != nil {
		return nil, err
	}
	roles.Grant(originationAddr, loan.RoleOriginator)
	roles.Grant(repayAddr, loan.RoleRepayer)
	roles.Grant(rolloverAddr, loan.RoleRepayer)
	roles.Grant(adminAddr, loan.RoleAdmin)

	registry := loan.NewRegistry(registryAddr, treasury, roles)
	registry.SetState(store)
	registry.SetPauses(cfg.Pauses)
	registry.SetEmitter(observability.NewMeteredEmitter(nil))

	borrowerNotes := note.NewEngine(registryAddr)
	borrowerNotes.SetState(store.BorrowerNotes())
	borrowerNotes.SetActivityView(registry)
	lenderNotes := note.NewEngine(registryAddr)
	lenderNotes.SetState(store.LenderNotes())
	lenderNotes.SetActivityView(registry)
	registry.SetNoteBooks(borrowerNotes, lenderNotes)

	vaults := vault.NewEngine(registryAddr)
	vaults.SetState(store)
	vaults.SetPauses(cfg.Pauses)
	registry.SetCollateralGateway(vaults)

	if err := registry.SetFeeSource(adminAddr, cfg.Protocol.FeePolicy()); err != nil {
		return nil, err
	}

	controller := loan.NewController(registry, borrowerNotes, lenderNotes, repayAddr)

	originationEngine := origination.NewEngine(registry, originationAddr, registryAddr)
	originationEngine.SetCollateralInspector(vaults)

	pool := rollover.NewPool(flashReserve, cfg.Protocol.FlashPremiumBps)
	pool.SetState(store)

	rolloverEngine := rollover.NewEngine(rolloverAddr)
	rolloverEngine.SetDependencies(registry, originationEngine, borrowerNotes, vaults, pool, cfg.Protocol.FeePolicy())
	rolloverEngine.SetState(store)
	rolloverEngine.SetEmitter(observability.NewMeteredEmitter(nil))

	return &Protocol{
		store:         store,
		registry:      registry,
		controller:    controller,
		borrowerNotes: borrowerNotes,
		lenderNotes:   lenderNotes,
		vaults:        vaults,
		origination:   originationEngine,
		rollover:      rolloverEngine,
		pool:          pool,
		adminAddress:  adminAddr,
	}, nil
}

// Registry exposes the loan registry for read paths and tests.
func (p *Protocol) Registry() *loan.Registry { return p.registry }

// observe wraps a mutating operation in a store transition and records its
// outcome.
func (p *Protocol) observe(module, operation string, fn func() error) error {
	start := time.Now()
	err := p.store.Transition(fn)
	observability.LoanMetrics().Observe(module, operation, err, time.Since(start))
	return err
}

// --- vault operations ---

func (p *Protocol) CreateVault(owner crypto.Address) (*vault.Vault, error) {
	var created *vault.Vault
	err := p.observe("vault", "create", func() error {
		v, err := p.vaults.Create(owner)
		if err != nil {
			return err
		}
		created = v
		return nil
	})
	return created, err
}

func (p *Protocol) DepositAsset(caller crypto.Address, vaultID uint64, asset vault.Asset) error {
	return p.observe("vault", "deposit", func() error {
		return p.vaults.Deposit(caller, vaultID, asset)
	})
}

func (p *Protocol) EnableWithdrawals(caller crypto.Address, vaultID uint64) error {
	return p.observe("vault", "enable_withdraw", func() error {
		return p.vaults.EnableWithdraw(caller, vaultID)
	})
}

func (p *Protocol) WithdrawAsset(caller crypto.Address, vaultID uint64, asset vault.Asset) error {
	return p.observe("vault", "withdraw", func() error {
		return p.vaults.Withdraw(caller, vaultID, asset)
	})
}

func (p *Protocol) GetVault(vaultID uint64) (*vault.Vault, error) {
	return p.vaults.GetVault(vaultID)
}

// --- origination operations ---

func (p *Protocol) InitializeLoan(caller, borrower, lender crypto.Address, terms loan.LoanTerms, sig []byte) (uint64, error) {
	var loanID uint64
	err := p.observe("origination", "initialize", func() error {
		id, err := p.origination.InitializeLoan(caller, borrower, lender, terms, sig)
		if err != nil {
			return err
		}
		loanID = id
		return nil
	})
	return loanID, err
}

func (p *Protocol) InitializeLoanWithPermit(caller, borrower, lender crypto.Address, terms loan.LoanTerms, deadline int64, sig []byte) (uint64, error) {
	var loanID uint64
	err := p.observe("origination", "initialize_permit", func() error {
		id, err := p.origination.InitializeLoanWithPermit(caller, borrower, lender, terms, deadline, sig)
		if err != nil {
			return err
		}
		loanID = id
		return nil
	})
	return loanID, err
}

func (p *Protocol) InitializeLoanWithItems(caller, borrower, lender crypto.Address, terms loan.LoanTerms, items []origination.CollateralItem, sig []byte) (uint64, error) {
	var loanID uint64
	err := p.observe("origination", "initialize_items", func() error {
		id, err := p.origination.InitializeLoanWithItems(caller, borrower, lender, terms, items, sig)
		if err != nil {
			return err
		}
		loanID = id
		return nil
	})
	return loanID, err
}

// --- repayment operations ---

func (p *Protocol) RepayLoan(caller crypto.Address, loanID uint64) error {
	return p.observe("loan", "repay", func() error {
		return p.controller.Repay(caller, loanID)
	})
}

func (p *Protocol) RepayPart(caller crypto.Address, borrowerNoteID uint64, amount *big.Int) error {
	return p.observe("loan", "repay_part", func() error {
		if amount == nil {
			return p.controller.RepayPartMinimum(caller, borrowerNoteID)
		}
		return p.controller.RepayPart(caller, borrowerNoteID, amount)
	})
}

func (p *Protocol) CloseLoan(caller crypto.Address, borrowerNoteID uint64) error {
	return p.observe("loan", "close", func() error {
		return p.controller.CloseLoan(caller, borrowerNoteID)
	})
}

func (p *Protocol) InstallmentDue(borrowerNoteID uint64) (loan.InstallmentDue, error) {
	return p.controller.GetInstallmentMinPayment(borrowerNoteID)
}

func (p *Protocol) AmountDue(loanID uint64) (*big.Int, error) {
	return p.controller.AmountDue(loanID)
}

func (p *Protocol) ClaimCollateral(caller crypto.Address, lenderNoteID uint64) error {
	return p.observe("loan", "claim", func() error {
		return p.controller.Claim(caller, lenderNoteID)
	})
}

func (p *Protocol) GetLoan(loanID uint64) (*loan.LoanData, error) {
	return p.registry.GetLoan(loanID)
}

// --- note operations ---

func (p *Protocol) noteSpace(space string) *note.Engine {
	if space == "lender" {
		return p.lenderNotes
	}
	return p.borrowerNotes
}

func (p *Protocol) TransferNote(space string, caller crypto.Address, noteID uint64, to crypto.Address) error {
	return p.observe("note", "transfer", func() error {
		return p.noteSpace(space).Transfer(caller, noteID, to)
	})
}

func (p *Protocol) BurnNote(space string, caller crypto.Address, noteID uint64) error {
	return p.observe("note", "burn", func() error {
		return p.noteSpace(space).Burn(caller, noteID)
	})
}

func (p *Protocol) NoteOwner(space string, noteID uint64) (crypto.Address, bool, error) {
	return p.noteSpace(space).OwnerOf(noteID)
}

// --- rollover ---

func (p *Protocol) RolloverLoan(caller, lender crypto.Address, oldNoteID uint64, terms loan.LoanTerms, lenderSig []byte) (uint64, error) {
	var loanID uint64
	err := p.observe("rollover", "rollover", func() error {
		id, err := p.rollover.RolloverLoan(caller, lender, oldNoteID, terms, lenderSig)
		if err != nil {
			return err
		}
		loanID = id
		return nil
	})
	return loanID, err
}

// --- ledger / admin ---

// Balance reports the ledger balance for an address and currency.
func (p *Protocol) Balance(addr crypto.Address, currency string) (*big.Int, error) {
	acc, err := p.store.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance(currency), nil
}

// Credit mints ledger balance to an address. Exposed only through the
// authenticated admin surface; in production deployments the ledger is fed by
// the settlement bridge instead.
func (p *Protocol) Credit(addr crypto.Address, currency string, amount *big.Int) error {
	return p.observe("admin", "credit", func() error {
		acc, err := p.store.GetAccount(addr)
		if err != nil {
			return err
		}
		acc.SetBalance(currency, new(big.Int).Add(acc.Balance(currency), amount))
		return p.store.PutAccount(addr, acc)
	})
}

// SweepToken recovers stray funds from the registry module account.
func (p *Protocol) SweepToken(to crypto.Address, currency string, amount *big.Int) error {
	return p.observe("admin", "sweep", func() error {
		return p.registry.SweepToken(p.adminAddress, to, currency, amount)
	})
}
