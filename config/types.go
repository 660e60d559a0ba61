package config

import (
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
)

// Protocol holds the policy knobs the engines read at construction.
type Protocol struct {
	// OriginationFeeBps is deducted from principal at loan start, in basis
	// points, and forwarded to the fee treasury.
	OriginationFeeBps uint64 `toml:"OriginationFeeBps"`
	// FlashPremiumBps is the fee the flash pool charges per draw.
	FlashPremiumBps uint64 `toml:"FlashPremiumBps"`
	// FeeTreasury receives origination fees. Bech32 encoded.
	FeeTreasury string `toml:"FeeTreasury"`
	// FlashReserve funds the rollover flash pool. Bech32 encoded.
	FlashReserve string `toml:"FlashReserve"`
}

// Pauses switches individual modules off without stopping the node.
type Pauses struct {
	Loan  bool `toml:"Loan"`
	Vault bool `toml:"Vault"`
}

// IsPaused satisfies the engine pause view.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "loan":
		return p.Loan
	case "vault":
		return p.Vault
	default:
		return false
	}
}

// Grant assigns roles to a principal in the capability table.
type Grant struct {
	Address string   `toml:"Address"`
	Roles   []string `toml:"Roles"`
}

// FeePolicy adapts the configured fee knob to the registry fee source.
type FeePolicy struct {
	Bps uint64
}

// OriginationFeeBps satisfies the registry fee source.
func (f FeePolicy) OriginationFeeBps() uint64 { return f.Bps }

// FeePolicy returns the fee source derived from the protocol section.
func (p Protocol) FeePolicy() FeePolicy {
	return FeePolicy{Bps: p.OriginationFeeBps}
}

// RoleTable builds the capability table from the configured grants. Addresses
// must already be validated.
func (c *Config) RoleTable() (*nativecommon.RoleTable, error) {
	table := nativecommon.NewRoleTable()
	for _, grant := range c.Roles {
		addr, err := crypto.DecodeAddress(grant.Address)
		if err != nil {
			return nil, err
		}
		for _, role := range grant.Roles {
			table.Grant(addr, nativecommon.Role(role))
		}
	}
	return table, nil
}
