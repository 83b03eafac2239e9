package hsm

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// Zone key material is a single blob: [0:32] is the AES-256 work key,
// [32:48] the CBC IV. Both the clear and the master-encrypted form share
// this layout.
const (
	workKeySize = 32
	ivSize      = aes.BlockSize
	blobSize    = workKeySize + ivSize
)

// ClearKey is the clear form of a zone key. It is handed to the owning
// terminal once at generation time and otherwise exists only transiently
// inside HSM operations. The switch and authorizers must never hold one;
// they work with EncryptedKey only.
type ClearKey struct {
	blob []byte
}

// EncryptedKey is a zone key blob sealed under the HSM master key. This is
// the registrable form; it is opaque to everything but the HSM.
type EncryptedKey []byte

// PinReference is a keyed digest of a PIN, derived and verified inside the
// HSM. Authorizers store it instead of the PIN itself.
type PinReference []byte

// Encrypt encrypts plaintext under the work key with AES-256-CBC and
// PKCS#7 padding. Terminals use this to protect the entered PIN before it
// leaves the keypad.
func (k ClearKey) Encrypt(plaintext []byte) ([]byte, error) {
	if len(k.blob) != blobSize {
		return nil, fmt.Errorf("clear key is not installed")
	}
	block, err := aes.NewCipher(k.blob[:workKeySize])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, k.blob[workKeySize:]).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// Decrypt reverses Encrypt. It exists for terminals and tests; the HSM uses
// it internally during translation and verification.
func (k ClearKey) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(k.blob) != blobSize {
		return nil, fmt.Errorf("clear key is not installed")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length must be a positive multiple of %d", aes.BlockSize)
	}
	block, err := aes.NewCipher(k.blob[:workKeySize])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, k.blob[workKeySize:]).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, fmt.Errorf("invalid padding value: %d", padding)
	}
	for i := len(data) - padding; i < len(data); i++ {
		if int(data[i]) != padding {
			return nil, fmt.Errorf("invalid padding bytes")
		}
	}
	return data[:len(data)-padding], nil
}
