// Package signature provides the eligibility-signature hook the core
// exposes: a Verifier interface the vote-acceptance path depends on,
// plus one concrete ECDSA/secp256k1 binding. The curve/format choice
// is opaque to the core; a deployment may swap in a different
// Verifier without touching ledger, registry or mining.
package signature

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/dmattosr/electioncore/coreerr"
)

// Verifier checks an eligibility signature over msg against a claimed
// voter address. It is the hook the core calls; it never inspects
// curve internals itself.
type Verifier interface {
	Verify(address common.Address, msg, sig []byte) bool
}

// SignKeys holds an ECDSA keypair, mirroring an eligibility authority's
// or a voter's signing material.
type SignKeys struct {
	private *ecdsa.PrivateKey
	public  *ecdsa.PublicKey
}

// NewSignKeys returns an empty key pair; call Generate or AddHexKey to
// populate it.
func NewSignKeys() *SignKeys {
	return &SignKeys{}
}

// Generate draws a fresh secp256k1 key pair.
func (s *SignKeys) Generate() error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	s.private = key
	s.public = &key.PublicKey
	return nil
}

// AddHexKey imports a private key from its hex encoding (with or
// without a 0x prefix).
func (s *SignKeys) AddHexKey(hexKey string) error {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrInvalidInput, err)
	}
	s.private = key
	s.public = &key.PublicKey
	return nil
}

// HexString returns the hex encodings of the public and (if present)
// private key.
func (s *SignKeys) HexString() (pub, priv string) {
	if s.public != nil {
		pub = hex.EncodeToString(crypto.FromECDSAPub(s.public))
	}
	if s.private != nil {
		priv = hex.EncodeToString(crypto.FromECDSA(s.private))
	}
	return pub, priv
}

// PublicKey returns the key pair's public component, or nil if none
// has been generated or imported yet.
func (s *SignKeys) PublicKey() *ecdsa.PublicKey {
	return s.public
}

// AddressString returns the Ethereum-style address derived from the
// public key, used as a compact voter fingerprint in election voter
// lists.
func (s *SignKeys) AddressString() string {
	if s.public == nil {
		return ""
	}
	return crypto.PubkeyToAddress(*s.public).String()
}

// SignEthereum signs the Keccak256 digest of msg, producing the
// eligibility signature bytes a Vote carries.
func (s *SignKeys) SignEthereum(msg []byte) ([]byte, error) {
	if s.private == nil {
		return nil, fmt.Errorf("%w: signing key has no private component", coreerr.ErrNotPrivate)
	}
	digest := crypto.Keccak256(msg)
	sig, err := crypto.Sign(digest, s.private)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return sig, nil
}

// AddrFromPublicKey derives the address bound to a public key.
func AddrFromPublicKey(pub *ecdsa.PublicKey) (common.Address, error) {
	if pub == nil {
		return common.Address{}, fmt.Errorf("%w: nil public key", coreerr.ErrInvalidInput)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// AddrFromSignature recovers the address that produced sig over msg.
func AddrFromSignature(msg, sig []byte) (common.Address, error) {
	digest := crypto.Keccak256(msg)
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", coreerr.ErrSignatureInvalid, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ECDSAVerifier is the reference Verifier binding: it accepts a
// signature iff it recovers to the claimed address.
type ECDSAVerifier struct{}

// Verify implements Verifier.
func (ECDSAVerifier) Verify(address common.Address, msg, sig []byte) bool {
	addr, err := AddrFromSignature(msg, sig)
	if err != nil {
		return false
	}
	return addr == address
}
