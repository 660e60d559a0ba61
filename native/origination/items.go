package origination

import (
	"errors"
	"math/big"

	"nftlend/crypto"
	"nftlend/native/loan"
	"nftlend/native/vault"
)

var (
	// ErrMalformedCollateralSpec indicates a required-item entry whose shape
	// is invalid for its asset kind.
	ErrMalformedCollateralSpec = errors.New("origination: malformed collateral item")
	// ErrEmptyCollateralSpec indicates an item-set origination with no items.
	ErrEmptyCollateralSpec = errors.New("origination: collateral item list empty")
	// ErrCollateralItemMissing indicates the pledged vault does not satisfy
	// one of the required items.
	ErrCollateralItemMissing = errors.New("origination: vault missing required item")
)

// CollateralInspector is the vault capability the engine uses: the
// withdrawal-mode check guarding every origination and the inventory predicate
// backing item-set offers.
type CollateralInspector interface {
	IsWithdrawalEnabled(vaultID uint64) (bool, error)
	Contains(vaultID uint64, kind vault.AssetKind, token string, tokenID, minAmount *big.Int) (bool, error)
}

// CollateralItem is one required entry in an item-set offer. Instead of
// signing over a specific vault's full inventory, a lender signs the set of
// items any acceptable vault must contain.
type CollateralItem struct {
	Kind  vault.AssetKind `json:"kind"`
	Token string          `json:"token"`
	// TokenID is required for unique and semi-fungible kinds. A nil TokenID
	// on a unique kind means any token of the collection satisfies the item.
	TokenID *big.Int `json:"tokenId,omitempty"`
	// Amount is the minimum quantity for fungible and semi-fungible kinds.
	Amount *big.Int `json:"amount,omitempty"`
}

func sanitizeItem(item CollateralItem) error {
	if !item.Kind.Valid() || item.Token == "" {
		return ErrMalformedCollateralSpec
	}
	switch item.Kind {
	case vault.AssetERC20, vault.AssetEther:
		if item.TokenID != nil {
			return ErrMalformedCollateralSpec
		}
		if item.Amount == nil || item.Amount.Sign() <= 0 {
			return ErrMalformedCollateralSpec
		}
	case vault.AssetERC721:
		if item.Amount != nil && item.Amount.Cmp(big.NewInt(1)) != 0 {
			return ErrMalformedCollateralSpec
		}
	case vault.AssetERC1155:
		if item.TokenID == nil {
			return ErrMalformedCollateralSpec
		}
		if item.Amount == nil || item.Amount.Sign() <= 0 {
			return ErrMalformedCollateralSpec
		}
	}
	return nil
}

// InitializeLoanWithItems originates from an item-set signature: the
// counterparty signed over the required items rather than a vault id, and the
// caller supplies a vault that must contain every item. All items must be
// satisfied; partial matches fail the whole origination.
func (e *Engine) InitializeLoanWithItems(caller, borrower, lender crypto.Address, terms loan.LoanTerms, items []CollateralItem, sig []byte) (uint64, error) {
	if e == nil || e.registry == nil {
		return 0, errNilRegistry
	}
	if len(items) == 0 {
		return 0, ErrEmptyCollateralSpec
	}
	for _, item := range items {
		if err := sanitizeItem(item); err != nil {
			return 0, err
		}
	}
	// The signed digest intentionally omits the collateral id so the borrower
	// can satisfy the offer with any vault holding the items.
	signedTerms := terms.Clone()
	signedTerms.CollateralID = 0
	signer, err := RecoverSigner(ItemsDigest(e.registryAddr, signedTerms, items), sig)
	if err != nil {
		return 0, err
	}
	if err := counterparty(caller, borrower, lender, signer); err != nil {
		return 0, err
	}
	if err := e.checkCollateral(terms.CollateralID); err != nil {
		return 0, err
	}
	if e.collateral != nil {
		for _, item := range items {
			ok, err := e.collateral.Contains(terms.CollateralID, item.Kind, item.Token, item.TokenID, item.Amount)
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, ErrCollateralItemMissing
			}
		}
	}
	return e.originate(borrower, lender, terms)
}
