// Package keys makes and uses the schnorr keys that sign nostr events.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

var (
	ErrBadSecKey = errors.New("secret key must be 64 hex characters")
	ErrBadID     = errors.New("event id does not match its content")
)

// GeneratePrivateKey returns a new random secret key in hex.
func GeneratePrivateKey() (sk string, err error) {
	var k *btcec.PrivateKey
	if k, err = btcec.NewPrivateKey(); chk.E(err) {
		return
	}
	return hex.EncodeToString(k.Serialize()), nil
}

func parseSecKey(sk string) (k *btcec.PrivateKey, err error) {
	var b []byte
	if len(sk) != 64 {
		return nil, ErrBadSecKey
	}
	if b, err = hex.DecodeString(sk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSecKey, err)
	}
	k, _ = btcec.PrivKeyFromBytes(b)
	return
}

// GetPublicKey returns the x-only public key of sk in hex.
func GetPublicKey(sk string) (pk string, err error) {
	var k *btcec.PrivateKey
	if k, err = parseSecKey(sk); err != nil {
		return
	}
	return hex.EncodeToString(schnorr.SerializePubKey(k.PubKey())), nil
}

// Sign sets the public key, id and signature of ev for the secret key.
func Sign(ev *event.T, sk string) (err error) {
	var k *btcec.PrivateKey
	if k, err = parseSecKey(sk); err != nil {
		return
	}
	ev.PubKey = hex.EncodeToString(schnorr.SerializePubKey(k.PubKey()))
	ev.ID = ev.GetID()
	var id []byte
	if id, err = hex.DecodeString(ev.ID); chk.E(err) {
		return
	}
	var sig *schnorr.Signature
	if sig, err = schnorr.Sign(k, id); chk.E(err) {
		return
	}
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return
}

// Verify checks the id and signature of ev.
func Verify(ev *event.T) (valid bool, err error) {
	if !ev.CheckID() {
		return false, ErrBadID
	}
	var b []byte
	if b, err = hex.DecodeString(ev.PubKey); err != nil {
		return false, fmt.Errorf("event has invalid pubkey '%s': %w", ev.PubKey, err)
	}
	var pk *btcec.PublicKey
	if pk, err = schnorr.ParsePubKey(b); err != nil {
		return false, fmt.Errorf("event has invalid pubkey '%s': %w", ev.PubKey, err)
	}
	if b, err = hex.DecodeString(ev.Sig); err != nil {
		return false, fmt.Errorf("signature '%s' is invalid hex: %w", ev.Sig, err)
	}
	var sig *schnorr.Signature
	if sig, err = schnorr.ParseSignature(b); err != nil {
		return false, fmt.Errorf("failed to parse signature: %w", err)
	}
	var id []byte
	if id, err = hex.DecodeString(ev.ID); err != nil {
		return
	}
	return sig.Verify(id, pk), nil
}
