package vault

import (
	"fmt"
	"math/big"

	"nftlend/crypto"
)

// AssetKind enumerates the asset classes a vault can hold.
type AssetKind uint8

const (
	AssetERC20 AssetKind = iota + 1
	AssetERC721
	AssetERC1155
	AssetEther
)

// Valid reports whether the kind is a supported asset class.
func (k AssetKind) Valid() bool {
	switch k {
	case AssetERC20, AssetERC721, AssetERC1155, AssetEther:
		return true
	default:
		return false
	}
}

func (k AssetKind) String() string {
	switch k {
	case AssetERC20:
		return "erc20"
	case AssetERC721:
		return "erc721"
	case AssetERC1155:
		return "erc1155"
	case AssetEther:
		return "ether"
	default:
		return "unknown"
	}
}

// Fungible reports whether deposits and withdrawals of this kind move through
// the account balance ledger.
func (k AssetKind) Fungible() bool {
	return k == AssetERC20 || k == AssetEther
}

// Asset is a single entry in a vault's inventory. TokenID is nil for fungible
// kinds; Amount is nil for unique tokens.
type Asset struct {
	Kind    AssetKind `json:"kind"`
	Token   string    `json:"token"`
	TokenID *big.Int  `json:"tokenId,omitempty"`
	Amount  *big.Int  `json:"amount,omitempty"`
}

// Clone returns a deep copy of the asset entry.
func (a Asset) Clone() Asset {
	clone := a
	if a.TokenID != nil {
		clone.TokenID = new(big.Int).Set(a.TokenID)
	}
	if a.Amount != nil {
		clone.Amount = new(big.Int).Set(a.Amount)
	}
	return clone
}

// Vault is a transferable container bundling arbitrary assets so they can be
// pledged as a single unit of collateral. Vaults live in an arena keyed by a
// stable integer id rather than as one instance per bundle.
type Vault struct {
	ID    uint64         `json:"id"`
	Owner crypto.Address `json:"owner"`
	// WithdrawEnabled permits the owner to pull assets back out. It is a
	// one-way switch per custody cycle: locking as collateral clears it.
	WithdrawEnabled bool `json:"withdrawEnabled"`
	// Locked marks the vault as active loan collateral. A locked vault's
	// assets move only through a registry-driven release.
	Locked    bool    `json:"locked"`
	Assets    []Asset `json:"assets,omitempty"`
	CreatedAt int64   `json:"createdAt"`
}

// Clone returns a deep copy of the vault.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	clone.Assets = make([]Asset, len(v.Assets))
	for i, asset := range v.Assets {
		clone.Assets[i] = asset.Clone()
	}
	return &clone
}

// SanitizeAsset validates the shape of an asset entry for its kind.
func SanitizeAsset(a Asset) (Asset, error) {
	if !a.Kind.Valid() {
		return Asset{}, fmt.Errorf("vault: invalid asset kind %d", a.Kind)
	}
	clone := a.Clone()
	switch a.Kind {
	case AssetERC20, AssetEther:
		if clone.Token == "" {
			return Asset{}, fmt.Errorf("vault: fungible asset requires a token symbol")
		}
		if clone.TokenID != nil {
			return Asset{}, fmt.Errorf("vault: fungible asset must not carry a token id")
		}
		if clone.Amount == nil || clone.Amount.Sign() <= 0 {
			return Asset{}, fmt.Errorf("vault: fungible asset amount must be positive")
		}
	case AssetERC721:
		if clone.TokenID == nil {
			return Asset{}, fmt.Errorf("vault: unique token requires a token id")
		}
		if clone.Amount != nil && clone.Amount.Cmp(big.NewInt(1)) != 0 {
			return Asset{}, fmt.Errorf("vault: unique token amount must be one")
		}
	case AssetERC1155:
		if clone.TokenID == nil {
			return Asset{}, fmt.Errorf("vault: semi-fungible token requires a token id")
		}
		if clone.Amount == nil || clone.Amount.Sign() <= 0 {
			return Asset{}, fmt.Errorf("vault: semi-fungible amount must be positive")
		}
	}
	return clone, nil
}
