package hsm

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ErrKeyTranslation reports that key material could not be recovered under
// the master key (corrupted or foreign EncryptedKey). Operations fail with
// it rather than ever working on garbage plaintext.
var ErrKeyTranslation = fmt.Errorf("key translation failed")

const (
	pinRefSalt = "atmswitch-pin-reference"
	pinRefIter = 4096
)

// HSM is the sole custodian of the master key. Clear zone keys exist
// outside of it only in the hands of the terminal they were generated for.
type HSM struct {
	keyring Keyring
}

// New creates an HSM with a fresh random software master key.
func New() (*HSM, error) {
	keyring, err := newSoftwareKeyring()
	if err != nil {
		return nil, fmt.Errorf("initializing keyring: %w", err)
	}
	return &HSM{keyring: keyring}, nil
}

// NewWithKeyring creates an HSM on top of an externally provided master-key
// custodian, e.g. the PKCS#11 token keyring.
func NewWithKeyring(keyring Keyring) *HSM {
	return &HSM{keyring: keyring}
}

// GenerateKey produces a fresh zone key and returns both forms: the clear
// one for the owning terminal and the master-sealed one for the registry.
// The HSM keeps nothing; every call yields independent key material.
func (h *HSM) GenerateKey() (ClearKey, EncryptedKey, error) {
	blob := make([]byte, blobSize)
	if _, err := rand.Read(blob); err != nil {
		return ClearKey{}, nil, fmt.Errorf("generating key material: %w", err)
	}
	ek, err := h.keyring.Seal(blob)
	if err != nil {
		return ClearKey{}, nil, fmt.Errorf("sealing key material: %w", err)
	}
	return ClearKey{blob: blob}, ek, nil
}

// TranslateCryptogram re-encrypts a cryptogram from the source zone to the
// destination zone. The recovered plaintext never leaves this call.
func (h *HSM) TranslateCryptogram(cryptogram []byte, src, dst EncryptedKey) ([]byte, error) {
	srcKey, err := h.open(src)
	if err != nil {
		return nil, err
	}
	dstKey, err := h.open(dst)
	if err != nil {
		return nil, err
	}

	plaintext, err := srcKey.Decrypt(cryptogram)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting cryptogram: %v", ErrKeyTranslation, err)
	}
	translated, err := dstKey.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: re-encrypting cryptogram: %v", ErrKeyTranslation, err)
	}
	return translated, nil
}

// DerivePinReference turns a clear PIN into the verifiable reference an
// authorizer may store: an HMAC under a key derived from the issuer's own
// zone key material. The clear PIN is seen only here and in VerifyPin.
func (h *HSM) DerivePinReference(pin string, issuerKey EncryptedKey) (PinReference, error) {
	blob, err := h.open(issuerKey)
	if err != nil {
		return nil, err
	}
	return derivePinReference(pin, blob.blob), nil
}

// VerifyPin decrypts the cryptogram under the issuer's zone key and checks
// the recovered PIN against the stored reference. A cryptogram that does
// not decrypt cleanly counts as a mismatch, not an error.
func (h *HSM) VerifyPin(cryptogram []byte, issuerKey EncryptedKey, ref PinReference) (bool, error) {
	blob, err := h.open(issuerKey)
	if err != nil {
		return false, err
	}
	pin, err := blob.Decrypt(cryptogram)
	if err != nil {
		return false, nil
	}
	return hmac.Equal(derivePinReference(string(pin), blob.blob), ref), nil
}

func (h *HSM) open(ek EncryptedKey) (ClearKey, error) {
	blob, err := h.keyring.Open(ek)
	if err != nil {
		return ClearKey{}, fmt.Errorf("%w: %v", ErrKeyTranslation, err)
	}
	return ClearKey{blob: blob}, nil
}

func derivePinReference(pin string, blob []byte) PinReference {
	refKey := pbkdf2.Key(blob, []byte(pinRefSalt), pinRefIter, workKeySize, sha256.New)
	mac := hmac.New(sha256.New, refKey)
	mac.Write([]byte(pin))
	return mac.Sum(nil)
}
