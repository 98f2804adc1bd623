package query

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// Decryptor decrypts a `__secure` field's ciphertext given a caller-
// supplied key. The query engine never guesses a cipher scheme —
// decryption is an injected collaborator with this exact signature.
type Decryptor interface {
	Decrypt(ciphertext []byte, key string) ([]byte, error)
}

// scryptSalt is fixed rather than per-field because FiberDB has no place
// to persist a per-field salt alongside `__secure` payloads; operators
// who need per-field salts should supply their own Decryptor.
var scryptSalt = []byte("fiberdb-secure-field-v1")

// ScryptDecryptor derives an AES-256-GCM key from the caller-supplied
// passphrase via scrypt, then opens the ciphertext as nonce||sealed.
type ScryptDecryptor struct{}

// Decrypt implements Decryptor.
func (ScryptDecryptor) Decrypt(ciphertext []byte, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("query: secure: decryption key required")
	}

	derived, err := scrypt.Key([]byte(key), scryptSalt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("query: secure: derive key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("query: secure: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("query: secure: build gcm: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("query: secure: ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("query: secure: open: %w", err)
	}
	return plain, nil
}
