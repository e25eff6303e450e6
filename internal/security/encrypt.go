package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/hkdf"
)

const keyInfo = "zchat-client conversation log v1"

// Encryptor seals persisted conversation logs. It uses AES-256-GCM with a
// key derived by HKDF-SHA256 from the configured secret and can still open
// blobs written with older fernet keys.
type Encryptor struct {
	aead       cipher.AEAD
	fernetKeys []*fernet.Key
}

func NewEncryptor(secret []byte, legacyKeys []string) (*Encryptor, error) {
	if len(secret) == 0 {
		return nil, errors.New("encryption key must not be empty")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	fernetKeys := make([]*fernet.Key, 0, len(legacyKeys)+1)
	if fk := parseFernetKey(string(secret)); fk != nil {
		fernetKeys = append(fernetKeys, fk)
	}
	for _, raw := range legacyKeys {
		if fk := parseFernetKey(raw); fk != nil {
			fernetKeys = append(fernetKeys, fk)
		}
	}
	return &Encryptor{aead: aead, fernetKeys: fernetKeys}, nil
}

func parseFernetKey(raw string) *fernet.Key {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	key, err := fernet.DecodeKey(trimmed)
	if err != nil {
		return nil
	}
	return key
}

// Encrypt returns nonce||ciphertext.
func (e *Encryptor) Encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plain, nil), nil
}

func (e *Encryptor) Decrypt(sealed []byte) ([]byte, error) {
	if n := e.aead.NonceSize(); len(sealed) >= n {
		plain, err := e.aead.Open(nil, sealed[:n], sealed[n:], nil)
		if err == nil {
			return plain, nil
		}
	}
	if len(e.fernetKeys) > 0 {
		// negative ttl: stored logs never expire
		if plain := fernet.VerifyAndDecrypt(sealed, -1*time.Second, e.fernetKeys); plain != nil {
			return plain, nil
		}
	}
	return nil, errors.New("failed to decrypt conversation log")
}
