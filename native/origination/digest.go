package origination

import (
	"encoding/binary"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nftlend/crypto"
	"nftlend/native/loan"
)

// Typed-terms hashing. Every digest is bound to a domain separator derived
// from the protocol name, version and the registry module address, so a
// signature produced for one deployment can never be replayed against
// another.
const (
	signingName    = "nftlend.origination"
	signingVersion = "2"
)

func domainSeparator(registry crypto.Address) []byte {
	return ethcrypto.Keccak256(
		[]byte(signingName),
		[]byte(signingVersion),
		registry.Bytes(),
	)
}

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func encodeInt64(v int64) []byte {
	return encodeUint64(uint64(v))
}

func encodeBigInt(v *big.Int) []byte {
	if v == nil {
		v = big.NewInt(0)
	}
	// Fixed 32-byte big-endian encoding keeps field boundaries unambiguous.
	return ethcommon.LeftPadBytes(v.Bytes(), 32)
}

func encodeTerms(terms loan.LoanTerms) []byte {
	payload := make([]byte, 0, 128)
	payload = append(payload, encodeUint64(terms.DurationSecs)...)
	payload = append(payload, encodeBigInt(terms.Principal)...)
	payload = append(payload, encodeBigInt(terms.InterestRate)...)
	payload = append(payload, encodeUint64(terms.CollateralID)...)
	payload = append(payload, ethcrypto.Keccak256([]byte(terms.PayableCurrency))...)
	payload = append(payload, encodeInt64(terms.StartDate)...)
	payload = append(payload, encodeUint64(terms.NumInstallments)...)
	return payload
}

// TermsDigest returns the digest a counterparty signs to authorize the terms.
func TermsDigest(registry crypto.Address, terms loan.LoanTerms) []byte {
	return ethcrypto.Keccak256(domainSeparator(registry), encodeTerms(terms))
}

// PermitDigest extends the terms digest with a collateral-transfer permit
// deadline, letting one signature cover both the terms and the approval.
func PermitDigest(registry crypto.Address, terms loan.LoanTerms, deadline int64) []byte {
	return ethcrypto.Keccak256(
		domainSeparator(registry),
		encodeTerms(terms),
		[]byte("permit"),
		encodeInt64(deadline),
	)
}

// ItemsDigest binds the terms to a required-item predicate list instead of a
// fixed collateral inventory.
func ItemsDigest(registry crypto.Address, terms loan.LoanTerms, items []CollateralItem) []byte {
	payload := encodeTerms(terms)
	for _, item := range items {
		payload = append(payload, byte(item.Kind))
		payload = append(payload, ethcrypto.Keccak256([]byte(item.Token))...)
		if item.TokenID != nil {
			payload = append(payload, 0x01)
			payload = append(payload, encodeBigInt(item.TokenID)...)
		} else {
			payload = append(payload, 0x00)
		}
		payload = append(payload, encodeBigInt(item.Amount)...)
	}
	return ethcrypto.Keccak256(domainSeparator(registry), payload)
}

// RecoverSigner resolves the protocol address that produced the signature
// over the digest.
func RecoverSigner(digest, sig []byte) (crypto.Address, error) {
	if len(sig) != 65 {
		return crypto.Address{}, ErrInvalidSignature
	}
	pubKey, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return crypto.Address{}, ErrInvalidSignature
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	return crypto.NewAddress(crypto.LendPrefix, recovered.Bytes()), nil
}
