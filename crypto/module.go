package crypto

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

// ModuleAddress derives the deterministic address a protocol module transacts
// under. No private key exists for these addresses; funds held by them move
// only through module code.
func ModuleAddress(name string) Address {
	digest := ethcrypto.Keccak256([]byte("nftlend/module/"), []byte(name))
	return NewAddress(LendPrefix, digest[len(digest)-20:])
}
