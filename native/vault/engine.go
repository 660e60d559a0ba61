package vault

import (
	"errors"
	"math/big"
	"time"

	"nftlend/core/types"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
)

const moduleName = "vault"

var (
	errNilState = errors.New("vault engine: state not configured")

	// ErrVaultNotFound indicates the vault id references no stored vault.
	ErrVaultNotFound = errors.New("vault engine: vault not found")
	// ErrNotOwner indicates the caller does not own the vault.
	ErrNotOwner = errors.New("vault engine: caller does not own vault")
	// ErrVaultLocked indicates the vault is pledged as active collateral.
	ErrVaultLocked = errors.New("vault engine: vault locked as collateral")
	// ErrWithdrawDisabled indicates withdrawals have not been enabled.
	ErrWithdrawDisabled = errors.New("vault engine: withdrawals not enabled")
	// ErrWithdrawEnabled indicates an operation that requires custody mode on
	// a vault whose owner has already enabled withdrawals.
	ErrWithdrawEnabled = errors.New("vault engine: withdrawals already enabled")
	// ErrAssetNotFound indicates the requested inventory entry is missing or
	// too small.
	ErrAssetNotFound = errors.New("vault engine: asset not found in vault")
	// ErrInsufficientBalance indicates a fungible deposit exceeds the
	// depositor's account balance.
	ErrInsufficientBalance = errors.New("vault engine: insufficient balance")
	// ErrReentrantCall indicates a withdrawal entry point was re-entered.
	ErrReentrantCall = errors.New("vault engine: reentrant call")
)

type engineState interface {
	VaultGet(id uint64) (*Vault, bool, error)
	VaultPut(*Vault) error
	NextVaultID() (uint64, error)
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Engine manages the vault arena: creation, asset custody and the
// lock/release lifecycle consumed by the loan registry.
type Engine struct {
	state     engineState
	authority crypto.Address
	pauses    nativecommon.PauseView
	nowFn     func() int64
	busy      bool
}

// NewEngine constructs a vault engine whose lock and release rights belong to
// the supplied authority address (the loan registry module).
func NewEngine(authority crypto.Address) *Engine {
	return &Engine{
		authority: authority,
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses wires the pause switchboard consulted before every owner-facing
// mutation. Lock and Release stay open so loan settlement can always return
// collateral; their entry points are guarded under the loan module.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

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

func (e *Engine) enter() error {
	if e.busy {
		return ErrReentrantCall
	}
	e.busy = true
	return nil
}

func (e *Engine) exit() { e.busy = false }

func (e *Engine) loadVault(id uint64) (*Vault, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	v, ok, err := e.state.VaultGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVaultNotFound
	}
	return v, nil
}

// Create allocates a fresh empty vault owned by the supplied address.
func (e *Engine) Create(owner crypto.Address) (*Vault, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	id, err := e.state.NextVaultID()
	if err != nil {
		return nil, err
	}
	v := &Vault{ID: id, Owner: owner, CreatedAt: e.now()}
	if err := e.state.VaultPut(v); err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// Deposit adds an asset to the vault inventory. Fungible deposits debit the
// depositor's account ledger; unique and semi-fungible entries are recorded
// as custody entries. Anyone may deposit into an unlocked vault.
func (e *Engine) Deposit(caller crypto.Address, vaultID uint64, asset Asset) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	v, err := e.loadVault(vaultID)
	if err != nil {
		return err
	}
	if v.Locked {
		return ErrVaultLocked
	}
	sanitized, err := SanitizeAsset(asset)
	if err != nil {
		return err
	}
	if sanitized.Kind.Fungible() {
		acc, err := e.state.GetAccount(caller)
		if err != nil {
			return err
		}
		if acc.Balance(sanitized.Token).Cmp(sanitized.Amount) < 0 {
			return ErrInsufficientBalance
		}
		acc.SetBalance(sanitized.Token, new(big.Int).Sub(acc.Balance(sanitized.Token), sanitized.Amount))
		if err := e.state.PutAccount(caller, acc); err != nil {
			return err
		}
	}
	mergeAsset(v, sanitized)
	return e.state.VaultPut(v)
}

// EnableWithdraw flips the vault into withdrawal mode. Only the owner may do
// so, and never while the vault backs an active loan. Origination refuses
// vaults in this mode, so a signed-off bundle cannot be drained between
// signing and funding.
func (e *Engine) EnableWithdraw(caller crypto.Address, vaultID uint64) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	v, err := e.loadVault(vaultID)
	if err != nil {
		return err
	}
	if !v.Owner.Equal(caller) {
		return ErrNotOwner
	}
	if v.Locked {
		return ErrVaultLocked
	}
	if v.WithdrawEnabled {
		return nil
	}
	v.WithdrawEnabled = true
	return e.state.VaultPut(v)
}

// Withdraw removes an asset from the vault and returns it to the owner.
// Requires withdrawal mode; refused outright while the vault is locked.
func (e *Engine) Withdraw(caller crypto.Address, vaultID uint64, asset Asset) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	v, err := e.loadVault(vaultID)
	if err != nil {
		return err
	}
	if !v.Owner.Equal(caller) {
		return ErrNotOwner
	}
	if v.Locked {
		return ErrVaultLocked
	}
	if !v.WithdrawEnabled {
		return ErrWithdrawDisabled
	}
	sanitized, err := SanitizeAsset(asset)
	if err != nil {
		return err
	}
	if err := takeAsset(v, sanitized); err != nil {
		return err
	}
	if err := e.state.VaultPut(v); err != nil {
		return err
	}
	if sanitized.Kind.Fungible() {
		acc, err := e.state.GetAccount(caller)
		if err != nil {
			return err
		}
		acc.SetBalance(sanitized.Token, new(big.Int).Add(acc.Balance(sanitized.Token), sanitized.Amount))
		return e.state.PutAccount(caller, acc)
	}
	return nil
}

// Lock pledges the vault as loan collateral: custody moves to the registry
// authority and the vault becomes immutable until released. The supplied
// address must be the current owner, and withdrawal mode must be off.
func (e *Engine) Lock(vaultID uint64, from crypto.Address) error {
	v, err := e.loadVault(vaultID)
	if err != nil {
		return err
	}
	if v.Locked {
		return ErrVaultLocked
	}
	if !v.Owner.Equal(from) {
		return ErrNotOwner
	}
	if v.WithdrawEnabled {
		return ErrWithdrawEnabled
	}
	v.Locked = true
	v.Owner = e.authority
	return e.state.VaultPut(v)
}

// Release ends the collateral lock, handing the vault to the supplied party.
// Withdrawal mode resets so the new owner starts in custody mode. Only a
// loan-state transition reaches this path.
func (e *Engine) Release(vaultID uint64, to crypto.Address) error {
	v, err := e.loadVault(vaultID)
	if err != nil {
		return err
	}
	if !v.Locked {
		return ErrVaultNotFound
	}
	v.Locked = false
	v.WithdrawEnabled = false
	v.Owner = to
	return e.state.VaultPut(v)
}

// IsInUse reports whether the vault is locked as collateral.
func (e *Engine) IsInUse(vaultID uint64) (bool, error) {
	v, err := e.loadVault(vaultID)
	if err != nil {
		return false, err
	}
	return v.Locked, nil
}

// IsWithdrawalEnabled reports whether the owner has enabled withdrawals.
func (e *Engine) IsWithdrawalEnabled(vaultID uint64) (bool, error) {
	v, err := e.loadVault(vaultID)
	if err != nil {
		return false, err
	}
	return v.WithdrawEnabled, nil
}

// OwnerOf returns the current owner of the vault.
func (e *Engine) OwnerOf(vaultID uint64) (crypto.Address, bool, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, false, errNilState
	}
	v, ok, err := e.state.VaultGet(vaultID)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return v.Owner, true, nil
}

// Contains reports whether the vault holds an asset matching the predicate:
// kind and token must match, a nil tokenID acts as a wildcard, and a non-nil
// minAmount requires at least that quantity.
func (e *Engine) Contains(vaultID uint64, kind AssetKind, token string, tokenID, minAmount *big.Int) (bool, error) {
	v, err := e.loadVault(vaultID)
	if err != nil {
		return false, err
	}
	for _, asset := range v.Assets {
		if asset.Kind != kind || asset.Token != token {
			continue
		}
		if tokenID != nil {
			if asset.TokenID == nil || asset.TokenID.Cmp(tokenID) != 0 {
				continue
			}
		}
		if minAmount != nil && minAmount.Sign() > 0 {
			if asset.Kind == AssetERC721 {
				// A unique token satisfies any minimum of one.
				if minAmount.Cmp(big.NewInt(1)) > 0 {
					continue
				}
			} else if asset.Amount == nil || asset.Amount.Cmp(minAmount) < 0 {
				continue
			}
		}
		return true, nil
	}
	return false, nil
}

// GetVault returns a deep copy of the stored vault.
func (e *Engine) GetVault(vaultID uint64) (*Vault, error) {
	v, err := e.loadVault(vaultID)
	if err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// mergeAsset folds a deposit into the inventory, merging fungible and
// semi-fungible entries with an existing matching line.
func mergeAsset(v *Vault, asset Asset) {
	if asset.Kind != AssetERC721 {
		for i, existing := range v.Assets {
			if existing.Kind != asset.Kind || existing.Token != asset.Token {
				continue
			}
			if asset.Kind == AssetERC1155 && existing.TokenID.Cmp(asset.TokenID) != 0 {
				continue
			}
			v.Assets[i].Amount = new(big.Int).Add(existing.Amount, asset.Amount)
			return
		}
	}
	v.Assets = append(v.Assets, asset)
}

// takeAsset removes the requested quantity from the inventory.
func takeAsset(v *Vault, asset Asset) error {
	for i, existing := range v.Assets {
		if existing.Kind != asset.Kind || existing.Token != asset.Token {
			continue
		}
		switch asset.Kind {
		case AssetERC721:
			if existing.TokenID.Cmp(asset.TokenID) != 0 {
				continue
			}
			v.Assets = append(v.Assets[:i], v.Assets[i+1:]...)
			return nil
		case AssetERC1155:
			if existing.TokenID.Cmp(asset.TokenID) != 0 {
				continue
			}
			fallthrough
		default:
			if existing.Amount.Cmp(asset.Amount) < 0 {
				return ErrAssetNotFound
			}
			remaining := new(big.Int).Sub(existing.Amount, asset.Amount)
			if remaining.Sign() == 0 {
				v.Assets = append(v.Assets[:i], v.Assets[i+1:]...)
			} else {
				v.Assets[i].Amount = remaining
			}
			return nil
		}
	}
	return ErrAssetNotFound
}
