package config

import (
	"fmt"

	"nftlend/crypto"
)

// Validate checks the configuration for values the engines would reject at
// construction.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if cfg.Protocol.OriginationFeeBps >= 10_000 {
		return fmt.Errorf("config: OriginationFeeBps %d must be below 10000", cfg.Protocol.OriginationFeeBps)
	}
	if cfg.Protocol.FlashPremiumBps >= 10_000 {
		return fmt.Errorf("config: FlashPremiumBps %d must be below 10000", cfg.Protocol.FlashPremiumBps)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"FeeTreasury", cfg.Protocol.FeeTreasury},
		{"FlashReserve", cfg.Protocol.FlashReserve},
	} {
		if field.value == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(field.value); err != nil {
			return fmt.Errorf("config: invalid %s address: %w", field.name, err)
		}
	}
	for _, grant := range cfg.Roles {
		if _, err := crypto.DecodeAddress(grant.Address); err != nil {
			return fmt.Errorf("config: invalid role grant address %q: %w", grant.Address, err)
		}
		if len(grant.Roles) == 0 {
			return fmt.Errorf("config: role grant for %s names no roles", grant.Address)
		}
	}
	return nil
}
