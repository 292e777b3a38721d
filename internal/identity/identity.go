// Package identity manages the node's long-lived Ed25519 keypair and its
// derived X25519 material, and provides canonical-bytes signing and
// verification for posts and interactions.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/crypto/curve25519"
)

// Identity holds a node's signing keypair and its hex-encoded pubkey.
type Identity struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
	Pubkey  string // lowercase hex
}

// LoadOrGenerate loads an Ed25519 seed from path, or generates and persists a
// new one if the file does not exist. Mirrors the zero-setup ergonomics of
// klistr's RSA LoadOrGenerateKeyPair: a new install needs no manual keygen
// step.
func LoadOrGenerate(path string) (*Identity, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read identity seed: %w", err)
		}
		slog.Info("identity seed not found, generating new one", "path", path)
		return generateAndSave(path)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity seed at %s has wrong length %d (want %d)", path, len(seed), ed25519.SeedSize)
	}
	return fromSeed(seed), nil
}

func generateAndSave(path string) (*Identity, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate identity seed: %w", err)
	}
	if err := os.WriteFile(path, seed, 0600); err != nil {
		return nil, fmt.Errorf("write identity seed: %w", err)
	}
	id := fromSeed(seed)
	slog.Info("generated identity", "pubkey", id.Pubkey[:8])
	return id, nil
}

func fromSeed(seed []byte) *Identity {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		Private: priv,
		Public:  pub,
		Pubkey:  hex.EncodeToString(pub),
	}
}

// X25519FromEd derives the node's X25519 private/public pair from its Ed25519
// seed: SHA-512 of the 32-byte seed, clamped per RFC 7748, used as the X25519
// scalar. This is the standard Ed25519→X25519 conversion used to bootstrap
// Noise/DH key agreement from an identity key that was never meant for DH.
func (id *Identity) X25519FromEd() (priv, pub [32]byte) {
	seed := id.Private.Seed()
	h := sha512.Sum512(seed)
	copy(priv[:], h[:32])
	clamp(&priv)
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		// curve25519.X25519 with the basepoint cannot fail.
		panic("identity: x25519 base mul failed: " + err.Error())
	}
	copy(pub[:], p)
	return priv, pub
}

// EdToX25519Public converts an Ed25519 public key to its Montgomery (X25519)
// form via the birational map between the twisted Edwards curve and Curve25519.
// For any seed s, EdToX25519Public(edPublic(s)) must equal the public half of
// X25519FromEd(s) — this is the testable key-derivation-agreement invariant
// from spec §8.
func EdToX25519Public(edPub ed25519.PublicKey) ([32]byte, error) {
	var out [32]byte
	y, err := edwardsYFromPublicKey(edPub)
	if err != nil {
		return out, err
	}
	montgomeryUFromEdwardsY(y, &out)
	return out, nil
}

func clamp(priv *[32]byte) {
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
}
