package hsm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// Keyring seals zone key blobs under the master key and opens them again.
// The default implementation keeps a random software master key; a PKCS#11
// token-backed implementation is available behind the softhsm build tag.
type Keyring interface {
	Seal(blob []byte) (EncryptedKey, error)
	Open(ek EncryptedKey) ([]byte, error)
}

// softwareKeyring wraps blobs with AES-256-GCM under an in-process master
// key. The authenticated mode is what lets the HSM reject foreign or
// corrupted key material instead of producing garbage.
type softwareKeyring struct {
	aead cipher.AEAD
}

func newSoftwareKeyring() (*softwareKeyring, error) {
	master := make([]byte, workKeySize)
	if _, err := rand.Read(master); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	block, err := aes.NewCipher(master)
	if err != nil {
		return nil, fmt.Errorf("creating master cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating master aead: %w", err)
	}
	return &softwareKeyring{aead: aead}, nil
}

func (r *softwareKeyring) Seal(blob []byte) (EncryptedKey, error) {
	nonce := make([]byte, r.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return EncryptedKey(r.aead.Seal(nonce, nonce, blob, nil)), nil
}

func (r *softwareKeyring) Open(ek EncryptedKey) ([]byte, error) {
	if len(ek) < r.aead.NonceSize() {
		return nil, fmt.Errorf("encrypted key too short")
	}
	nonce, sealed := ek[:r.aead.NonceSize()], ek[r.aead.NonceSize():]
	blob, err := r.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("opening key blob: %w", err)
	}
	if len(blob) != blobSize {
		return nil, fmt.Errorf("key blob length got %d want %d", len(blob), blobSize)
	}
	return blob, nil
}
