package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klppl/socialnode/internal/wire"
)

// signablePost is the JSON shape signed for a post: exactly the seven keys
// in explicit field order, signature omitted.
type signablePost struct {
	ID              string `json:"id"`
	Author          string `json:"author"`
	Content         string `json:"content"`
	Timestamp       int64  `json:"timestamp"`
	Media           []string `json:"media"`
	ReplyTo         string `json:"reply_to"`
	ReplyToAuthor   string `json:"reply_to_author"`
}

type signableInteraction struct {
	ID            string `json:"id"`
	Author        string `json:"author"`
	Kind          string `json:"kind"`
	TargetPostID  string `json:"target_post_id"`
	TargetAuthor  string `json:"target_author"`
	Timestamp     int64  `json:"timestamp"`
}

// CanonicalPostBytes returns the deterministic signing input for a post,
// excluding its signature field.
func CanonicalPostBytes(p *wire.Post) ([]byte, error) {
	media := p.Media
	if media == nil {
		media = []string{}
	}
	sp := signablePost{
		ID:            p.ID,
		Author:        p.Author,
		Content:       p.Content,
		Timestamp:     p.Timestamp,
		Media:         media,
		ReplyTo:       p.ReplyTo,
		ReplyToAuthor: p.ReplyToAuthor,
	}
	b, err := json.Marshal(sp)
	if err != nil {
		return nil, fmt.Errorf("canonicalize post: %w", err)
	}
	return b, nil
}

// CanonicalInteractionBytes returns the deterministic signing input for an
// interaction, excluding its signature field.
func CanonicalInteractionBytes(in *wire.Interaction) ([]byte, error) {
	si := signableInteraction{
		ID:           in.ID,
		Author:       in.Author,
		Kind:         in.Kind,
		TargetPostID: in.TargetPostID,
		TargetAuthor: in.TargetAuthor,
		Timestamp:    in.Timestamp,
	}
	b, err := json.Marshal(si)
	if err != nil {
		return nil, fmt.Errorf("canonicalize interaction: %w", err)
	}
	return b, nil
}

// SignPost signs a post with this identity's private key and sets Signature.
func (id *Identity) SignPost(p *wire.Post) error {
	b, err := CanonicalPostBytes(p)
	if err != nil {
		return err
	}
	p.Signature = hex.EncodeToString(ed25519.Sign(id.Private, b))
	return nil
}

// SignInteraction signs an interaction with this identity's private key.
func (id *Identity) SignInteraction(in *wire.Interaction) error {
	b, err := CanonicalInteractionBytes(in)
	if err != nil {
		return err
	}
	in.Signature = hex.EncodeToString(ed25519.Sign(id.Private, b))
	return nil
}

// VerifyPost checks p.Signature against p.Author's claimed public key.
func VerifyPost(p *wire.Post) error {
	authorPub, err := decodeHexPubkey(p.Author)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(p.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("post %s: malformed signature", p.ID)
	}
	b, err := CanonicalPostBytes(p)
	if err != nil {
		return err
	}
	if !ed25519.Verify(authorPub, b, sig) {
		return fmt.Errorf("post %s: signature verification failed", p.ID)
	}
	return nil
}

// VerifyInteraction checks in.Signature against in.Author's claimed public key.
func VerifyInteraction(in *wire.Interaction) error {
	authorPub, err := decodeHexPubkey(in.Author)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(in.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("interaction %s: malformed signature", in.ID)
	}
	b, err := CanonicalInteractionBytes(in)
	if err != nil {
		return err
	}
	if !ed25519.Verify(authorPub, b, sig) {
		return fmt.Errorf("interaction %s: signature verification failed", in.ID)
	}
	return nil
}

func decodeHexPubkey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("malformed pubkey %q", s)
	}
	return ed25519.PublicKey(b), nil
}
