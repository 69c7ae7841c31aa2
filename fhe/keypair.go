package fhe

import (
	"crypto/cipher"
	"crypto/mlkem"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealInfo binds derived keys to user decryption.
const sealInfo = "launchpad user-decrypt v1"

// Keypair is an ephemeral ML-KEM-768 keypair used for one user-decryption
// request. PublicKey is the hex encapsulation key, PrivateKey the hex seed.
type Keypair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// GenerateKeypair creates a new ML-KEM-768 keypair.
func GenerateKeypair() (Keypair, error) {
	dk, err := mlkem.GenerateKey768()
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	return Keypair{
		PublicKey:  hex.EncodeToString(dk.EncapsulationKey().Bytes()),
		PrivateKey: hex.EncodeToString(dk.Bytes()),
	}, nil
}

// SealedValue is a cleartext sealed to a keypair by the relayer.
type SealedValue struct {
	// KEMCiphertext encapsulates the shared key to the request public key.
	KEMCiphertext string `json:"kemCiphertext"`
	// Ciphertext is nonce || ChaCha20-Poly1305(HKDF(sharedKey), value).
	Ciphertext string `json:"ciphertext"`
}

var errMalformedSealed = errors.New("malformed sealed value")

// Open decrypts a sealed value with the keypair private key.
func (k Keypair) Open(sv SealedValue) (string, error) {
	seed, err := decodeHex(k.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("private key: %w", err)
	}
	dk, err := mlkem.NewDecapsulationKey768(seed)
	if err != nil {
		return "", fmt.Errorf("private key: %w", err)
	}
	kemCT, err := decodeHex(sv.KEMCiphertext)
	if err != nil {
		return "", errMalformedSealed
	}
	shared, err := dk.Decapsulate(kemCT)
	if err != nil {
		return "", fmt.Errorf("decapsulate: %w", err)
	}
	sealed, err := decodeHex(sv.Ciphertext)
	if err != nil {
		return "", errMalformedSealed
	}

	aead, err := newAEAD(shared)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", errMalformedSealed
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plain), nil
}

// Seal encrypts value to an encapsulation key. The relayer performs the
// same operation; it is exported for relayer stubs and tests.
func Seal(publicKey string, value string, nonce []byte) (SealedValue, error) {
	ekBytes, err := decodeHex(publicKey)
	if err != nil {
		return SealedValue{}, fmt.Errorf("public key: %w", err)
	}
	ek, err := mlkem.NewEncapsulationKey768(ekBytes)
	if err != nil {
		return SealedValue{}, fmt.Errorf("public key: %w", err)
	}
	shared, kemCT := ek.Encapsulate()

	aead, err := newAEAD(shared)
	if err != nil {
		return SealedValue{}, err
	}
	if len(nonce) != aead.NonceSize() {
		return SealedValue{}, fmt.Errorf("nonce must be %d bytes", aead.NonceSize())
	}
	sealed := aead.Seal(append([]byte(nil), nonce...), nonce, []byte(value), nil)

	return SealedValue{
		KEMCiphertext: hex.EncodeToString(kemCT),
		Ciphertext:    hex.EncodeToString(sealed),
	}, nil
}

// newAEAD derives a ChaCha20-Poly1305 key from the KEM shared secret.
func newAEAD(shared []byte) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return chacha20poly1305.New(key)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
