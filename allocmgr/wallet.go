package allocmgr

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Wallet derives per-allocation keys from a single indexer operator
// mnemonic/seed and signs allocation-id proofs. There is no ecosystem
// HD-wallet or Ethereum-signing library in the example pack (DESIGN.md
// records the search); this narrow primitive is intentionally the
// smallest possible stdlib crypto/ecdsa use, not a general-purpose wallet.
type Wallet struct {
	seed []byte
}

// NewWallet derives a Wallet from an operator-configured mnemonic/seed
// string (opaque to this package; the daemon entrypoint owns how it is
// sourced and kept secret).
func NewWallet(seed string) *Wallet {
	return &Wallet{seed: []byte(seed)}
}

// deriveKey derives a deterministic P-256 key pair for one allocation
// attempt, scoped by every input that must produce a stable, collision-free
// id: the wallet seed, the current epoch, the target deployment, and an
// attempt counter used to skip ids already active on chain.
func (w *Wallet) deriveKey(epoch int64, deploymentID string, attempt int) *ecdsa.PrivateKey {
	material := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%d", w.seed, epoch, deploymentID, attempt)))
	curve := elliptic.P256()
	d := new(big.Int).SetBytes(material[:])
	d.Mod(d, curve.Params().N)
	if d.Sign() == 0 {
		d.SetInt64(1)
	}
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.D = d
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	return priv
}

// AllocationID returns the deterministic allocation id for this
// (epoch, deployment, attempt) triple, as a hex-encoded compressed public
// key — the allocation-id address allocate/reallocate derive and verify
// is unoccupied on chain before use.
func (w *Wallet) AllocationID(epoch int64, deploymentID string, attempt int) string {
	priv := w.deriveKey(epoch, deploymentID, attempt)
	return "0x" + hex.EncodeToString(elliptic.MarshalCompressed(priv.PublicKey.Curve, priv.PublicKey.X, priv.PublicKey.Y))
}

// SignAllocationProof signs (indexer, allocationID) with the
// allocation-id's own private key, proving the indexer controls it — the
// "allocation-id proof" §4.6 requires alongside allocateFrom/closeAndAllocate.
func (w *Wallet) SignAllocationProof(epoch int64, deploymentID string, attempt int, indexer, allocationID string) ([]byte, error) {
	priv := w.deriveKey(epoch, deploymentID, attempt)
	digest := sha256.Sum256([]byte(indexer + allocationID))
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("allocmgr: sign allocation proof: %w", err)
	}
	proof := append(r.Bytes(), s.Bytes()...)
	return proof, nil
}
