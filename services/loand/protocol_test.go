package loand

import (
	"math/big"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	nodecfg "nftlend/config"
	"nftlend/crypto"
	"nftlend/native/loan"
	"nftlend/native/origination"
	"nftlend/native/vault"
	"nftlend/storage/loanstore"
)

// A rollover that fails mid-flight must leave no trace: the old loan stays
// active and the borrower keeps the note the engine had already moved into
// module custody before the failing leg.
func TestRolloverFailureRestoresLoanState(t *testing.T) {
	cfg := &nodecfg.Config{
		Protocol: nodecfg.Protocol{OriginationFeeBps: 100, FlashPremiumBps: 30},
	}
	protocol, err := NewProtocol(cfg, loanstore.NewStore())
	require.NoError(t, err)

	borrower := newAPIParty(t)
	oldLender := newAPIParty(t)
	newLender := newAPIParty(t)

	v, err := protocol.CreateVault(borrower.addr)
	require.NoError(t, err)
	require.NoError(t, protocol.DepositAsset(borrower.addr, v.ID, vault.Asset{
		Kind: vault.AssetERC721, Token: "punk", TokenID: big.NewInt(9),
	}))

	require.NoError(t, protocol.Credit(oldLender.addr, "USDC", mustBig(t, "1000000")))
	// The flash reserve is solvent so the failure lands in the origination
	// leg, after the note hand-off, not in the draw.
	require.NoError(t, protocol.Credit(crypto.ModuleAddress("flash.reserve"), "USDC", mustBig(t, "2000000")))

	start := time.Now().Unix()
	terms := loan.LoanTerms{
		DurationSecs:    3_600,
		Principal:       mustBig(t, "1000000"),
		InterestRate:    mustBig(t, "1000000000000000000000"),
		CollateralID:    v.ID,
		PayableCurrency: "USDC",
		StartDate:       start,
	}
	digest := origination.TermsDigest(crypto.ModuleAddress("loan"), terms)
	sig, err := ethcrypto.Sign(digest, oldLender.key.PrivateKey)
	require.NoError(t, err)

	loanID, err := protocol.InitializeLoan(borrower.addr, borrower.addr, oldLender.addr, terms, sig)
	require.NoError(t, err)
	record, err := protocol.GetLoan(loanID)
	require.NoError(t, err)

	payout, err := protocol.Balance(borrower.addr, "USDC")
	require.NoError(t, err)
	require.Zero(t, payout.Cmp(mustBig(t, "990000")))

	newTerms := loan.LoanTerms{
		DurationSecs:    3_600,
		Principal:       mustBig(t, "1200000"),
		InterestRate:    mustBig(t, "1000000000000000000000"),
		CollateralID:    v.ID,
		PayableCurrency: "USDC",
		StartDate:       time.Now().Unix(),
	}
	newDigest := origination.TermsDigest(crypto.ModuleAddress("loan"), newTerms)
	newSig, err := ethcrypto.Sign(newDigest, newLender.key.PrivateKey)
	require.NoError(t, err)

	// The new lender holds no USDC, so funding the replacement loan fails
	// after the flash draw repaid the old one.
	_, err = protocol.RolloverLoan(borrower.addr, newLender.addr, record.BorrowerNoteID, newTerms, newSig)
	require.Error(t, err)

	after, err := protocol.GetLoan(loanID)
	require.NoError(t, err)
	require.Equal(t, loan.LoanStateActive, after.State)

	owner, ok, err := protocol.NoteOwner("borrower", record.BorrowerNoteID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, owner.Equal(borrower.addr))

	balance, err := protocol.Balance(borrower.addr, "USDC")
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(mustBig(t, "990000")))
	reserve, err := protocol.Balance(crypto.ModuleAddress("flash.reserve"), "USDC")
	require.NoError(t, err)
	require.Zero(t, reserve.Cmp(mustBig(t, "2000000")))

	// The same rollover goes through once the lender is funded.
	require.NoError(t, protocol.Credit(newLender.addr, "USDC", mustBig(t, "1200000")))
	newID, err := protocol.RolloverLoan(borrower.addr, newLender.addr, record.BorrowerNoteID, newTerms, newSig)
	require.NoError(t, err)
	require.NotZero(t, newID)
	rolled, err := protocol.GetLoan(loanID)
	require.NoError(t, err)
	require.Equal(t, loan.LoanStateRepaid, rolled.State)
}
