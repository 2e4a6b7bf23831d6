package nostr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var (
	ErrIDMismatch       = errors.New("event id does not match content hash")
	ErrInvalidSignature = errors.New("signature verification failed")
)

// VerifyEvent recomputes the event id from the canonical serialization and checks the
// BIP-340 Schnorr signature over it. The id check always runs first, so that a tampered
// event is reported as such rather than as a bad signature.
//
// The event is expected to have passed structural validation (hex field lengths);
// malformed hex is reported as an invalid signature.
func VerifyEvent(evt *Event) error {
	if evt.ComputeID() != evt.ID {
		return ErrIDMismatch
	}

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil || len(idBytes) != 32 {
		return ErrInvalidSignature
	}
	pubBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return ErrInvalidSignature
	}
	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return ErrInvalidSignature
	}

	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return ErrInvalidSignature
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return ErrInvalidSignature
	}
	if !sig.Verify(idBytes, pub) {
		return ErrInvalidSignature
	}
	return nil
}

// PrivateKey is a secp256k1 secret key used for signing events. Secret key material is
// naively stored in memory.
type PrivateKey struct {
	priv *btcec.PrivateKey
}

// GeneratePrivateKey creates a fresh random key.
func GeneratePrivateKey() (*PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("secp256k1 key generation failed: %w", err)
	}
	return &PrivateKey{priv: priv}, nil
}

// ParsePrivateKeyHex loads a 32-byte secret key from hex.
func ParsePrivateKeyHex(s string) (*PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("invalid secret key length: %d", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return &PrivateKey{priv: priv}, nil
}

// Hex returns the secret key as hex.
func (k *PrivateKey) Hex() string {
	return hex.EncodeToString(k.priv.Serialize())
}

// PublicKeyHex returns the 32-byte x-only public key as hex, which is the event author identity.
func (k *PrivateKey) PublicKeyHex() string {
	return hex.EncodeToString(schnorr.SerializePubKey(k.priv.PubKey()))
}

// SignEvent sets the pubkey, id and sig fields of the event. If CreatedAt is zero it is
// set to the current time, and nil tags are replaced by an empty list.
func (k *PrivateKey) SignEvent(evt *Event) error {
	if evt.CreatedAt == 0 {
		evt.CreatedAt = time.Now().Unix()
	}
	if evt.Tags == nil {
		evt.Tags = Tags{}
	}
	evt.PubKey = k.PublicKeyHex()
	evt.ID = evt.ComputeID()

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(k.priv, idBytes)
	if err != nil {
		return fmt.Errorf("signing event: %w", err)
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}
