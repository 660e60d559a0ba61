package rollover

import (
	"errors"
	"math/big"

	"nftlend/core/types"
	"nftlend/crypto"
)

var (
	errNilPoolState = errors.New("flash pool: state not configured")

	// ErrPoolInsufficient indicates the pool reserve cannot cover the draw.
	ErrPoolInsufficient = errors.New("flash pool: insufficient reserve")
	// ErrFlashNotRepaid indicates the borrower could not return the draw plus
	// premium before the transaction ended.
	ErrFlashNotRepaid = errors.New("flash pool: draw not repaid")
	// ErrFlashReentrant indicates a nested draw during an open flash.
	ErrFlashReentrant = errors.New("flash pool: reentrant draw")
)

type poolState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Pool is a same-transaction liquidity source. A draw moves funds to the
// borrower, runs the callback, and pulls the draw plus premium back before
// returning. The reserve lives in an ordinary account ledger entry.
type Pool struct {
	state      poolState
	reserve    crypto.Address
	premiumBps uint64
	busy       bool
}

// NewPool constructs a flash pool funded from the reserve address.
func NewPool(reserve crypto.Address, premiumBps uint64) *Pool {
	return &Pool{reserve: reserve, premiumBps: premiumBps}
}

// SetState wires the pool to the account ledger.
func (p *Pool) SetState(state poolState) { p.state = state }

// Premium returns the fee charged on a draw of the given size.
func (p *Pool) Premium(amount *big.Int) *big.Int {
	if p == nil || amount == nil || amount.Sign() <= 0 || p.premiumBps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(p.premiumBps))
	return fee.Quo(fee, big.NewInt(10_000))
}

// Flash lends amount to the recipient for the duration of fn. The premium
// accrues to the reserve. Any error from fn aborts the draw after the funds
// have been clawed back.
func (p *Pool) Flash(to crypto.Address, currency string, amount *big.Int, fn func() error) error {
	if p == nil || p.state == nil {
		return errNilPoolState
	}
	if p.busy {
		return ErrFlashReentrant
	}
	p.busy = true
	defer func() { p.busy = false }()

	if err := p.move(p.reserve, to, currency, amount, ErrPoolInsufficient); err != nil {
		return err
	}
	fnErr := fn()
	repay := new(big.Int).Add(amount, p.Premium(amount))
	if err := p.move(to, p.reserve, currency, repay, ErrFlashNotRepaid); err != nil {
		return err
	}
	return fnErr
}

func (p *Pool) move(from, to crypto.Address, currency string, amount *big.Int, short error) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	fromAcc, err := p.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := p.state.GetAccount(to)
	if err != nil {
		return err
	}
	if fromAcc.Balance(currency).Cmp(amount) < 0 {
		return short
	}
	fromAcc.SetBalance(currency, new(big.Int).Sub(fromAcc.Balance(currency), amount))
	toAcc.SetBalance(currency, new(big.Int).Add(toAcc.Balance(currency), amount))
	if err := p.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return p.state.PutAccount(to, toAcc)
}
