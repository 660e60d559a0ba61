package types

import "math/big"

// Account tracks the fungible balances held by a protocol participant. Amounts
// are denominated in the smallest unit of each payable currency and expressed
// as big integers to match on-chain precision.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances,omitempty"`
}

// Balance returns the account balance for the supplied currency, treating
// missing entries as zero. The returned value is the stored instance; callers
// that mutate it must store the account again.
func (a *Account) Balance(currency string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[currency]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

// SetBalance records the balance for the supplied currency, allocating the
// balance map when needed.
func (a *Account) SetBalance(currency string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[currency] = amount
}

// Clone returns a deep copy of the account so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balances: make(map[string]*big.Int)}
	}
	clone := &Account{Nonce: a.Nonce, Balances: make(map[string]*big.Int, len(a.Balances))}
	for currency, bal := range a.Balances {
		if bal != nil {
			clone.Balances[currency] = new(big.Int).Set(bal)
		}
	}
	return clone
}
