package identity

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/klppl/socialnode/internal/wire"
	"github.com/stretchr/testify/require"
)

func newTestIdentity(t *testing.T) *Identity {
	t.Helper()
	dir := t.TempDir()
	id, err := LoadOrGenerate(filepath.Join(dir, "identity.key"))
	require.NoError(t, err)
	return id
}

func TestLoadOrGenerate_PersistsAcrossReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	first, err := LoadOrGenerate(path)
	require.NoError(t, err)

	second, err := LoadOrGenerate(path)
	require.NoError(t, err)

	require.Equal(t, first.Pubkey, second.Pubkey)
}

func TestLoadOrGenerate_RejectsWrongLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")
	require.NoError(t, os.WriteFile(path, []byte("too short"), 0600))

	_, err := LoadOrGenerate(path)
	require.Error(t, err)
}

// TestX25519KeyDerivationAgreement is the key-derivation-agreement invariant
// invariant: for every identity seed s,
// x25519_public(x25519_from_ed(s)) == ed_to_x25519_public(ed_public(s)).
func TestX25519KeyDerivationAgreement(t *testing.T) {
	for i := 0; i < 10; i++ {
		id := newTestIdentity(t)

		_, fromSeedPub := id.X25519FromEd()
		fromEdPub, err := EdToX25519Public(id.Public)
		require.NoError(t, err)

		require.Equal(t, fromSeedPub, fromEdPub, "pubkey %s", id.Pubkey)
	}
}

func TestSignAndVerifyPost(t *testing.T) {
	id := newTestIdentity(t)
	p := &wire.Post{
		ID:        "p1",
		Author:    id.Pubkey,
		Content:   "hi",
		Timestamp: 1_700_000_000_000,
	}
	require.NoError(t, id.SignPost(p))
	require.NotEmpty(t, p.Signature)
	require.NoError(t, VerifyPost(p))
}

func TestVerifyPost_RejectsForgedSignature(t *testing.T) {
	author := newTestIdentity(t)
	forger := newTestIdentity(t)

	p := &wire.Post{
		ID:        "p1",
		Author:    author.Pubkey,
		Content:   "hi",
		Timestamp: 1_700_000_000_000,
	}
	require.NoError(t, forger.SignPost(p)) // signed by the wrong key

	err := VerifyPost(p)
	require.Error(t, err)
}

func TestVerifyPost_RejectsTamperedContent(t *testing.T) {
	id := newTestIdentity(t)
	p := &wire.Post{
		ID:        "p1",
		Author:    id.Pubkey,
		Content:   "hi",
		Timestamp: 1_700_000_000_000,
	}
	require.NoError(t, id.SignPost(p))

	p.Content = "tampered"
	require.Error(t, VerifyPost(p))
}

func TestSignAndVerifyInteraction(t *testing.T) {
	id := newTestIdentity(t)
	in := &wire.Interaction{
		ID:           "i1",
		Author:       id.Pubkey,
		Kind:         wire.InteractionLike,
		TargetPostID: "p1",
		TargetAuthor: id.Pubkey,
		Timestamp:    1_700_000_000_000,
	}
	require.NoError(t, id.SignInteraction(in))
	require.NoError(t, VerifyInteraction(in))
}

func TestVerifyPost_MalformedSignatureRejected(t *testing.T) {
	id := newTestIdentity(t)
	p := &wire.Post{ID: "p1", Author: id.Pubkey, Content: "hi", Timestamp: 1, Signature: "not-hex"}
	require.Error(t, VerifyPost(p))
}

func TestVerifyPost_MalformedAuthorRejected(t *testing.T) {
	p := &wire.Post{ID: "p1", Author: "not-a-pubkey", Content: "hi", Timestamp: 1, Signature: hex.EncodeToString(make([]byte, 64))}
	require.Error(t, VerifyPost(p))
}
