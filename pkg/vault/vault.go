package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

const gcmTagSize = 16

// Vault encrypts and decrypts credential material with AES-256-GCM.
// Ciphertext layout is hex(IV || authTag || ciphertext).
type Vault struct {
	key []byte
}

// New derives a vault key from the configured secret. A secret of exactly 32
// bytes is used verbatim; anything else is hashed to key length, with a
// one-time warning since that usually means a misconfigured secret.
func New(secret string) *Vault {
	key := deriveKey(secret, func() {
		logrus.Warn("[VAULT] secret is not 32 bytes, falling back to SHA-256 derivation")
	})
	return &Vault{key: key}
}

func deriveKey(secret string, warn func()) []byte {
	raw := []byte(secret)
	if len(raw) == 32 {
		return raw
	}
	if warn != nil {
		warn()
	}
	sum := sha256.Sum256(raw)
	return sum[:]
}

// Encrypt returns hex(IV || authTag || ciphertext) for the given plaintext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	// Seal appends the tag after the ciphertext; the stored layout puts the
	// tag between IV and ciphertext.
	ct := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	out := make([]byte, 0, len(iv)+len(tag)+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. It never propagates failures: a malformed or
// wrong-key ciphertext yields "" so batch jobs iterating many records can
// skip bad rows instead of aborting.
func (v *Vault) Decrypt(encoded string) string {
	data, err := hex.DecodeString(encoded)
	if err != nil {
		logrus.WithError(err).Warn("[VAULT] ciphertext is not valid hex")
		return ""
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		logrus.WithError(err).Error("[VAULT] cipher init failed")
		return ""
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		logrus.WithError(err).Error("[VAULT] gcm init failed")
		return ""
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize+gcmTagSize {
		logrus.Warn("[VAULT] ciphertext too short")
		return ""
	}

	iv := data[:nonceSize]
	tag := data[nonceSize : nonceSize+gcmTagSize]
	ct := data[nonceSize+gcmTagSize:]

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		logrus.WithError(err).Warn("[VAULT] decryption failed, returning empty string")
		return ""
	}
	return string(plaintext)
}

var (
	defaultVault *Vault
	defaultOnce  sync.Once
	defaultInit  func() *Vault
	defaultMu    sync.Mutex
)

// Configure sets the factory used by Default. It must be called before the
// first Default call; later calls are ignored because the key derivation (and
// its hash-fallback warning) must happen exactly once per process.
func Configure(secret string) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultInit == nil {
		defaultInit = func() *Vault { return New(secret) }
	}
}

// Default returns the process-wide vault singleton.
func Default() *Vault {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		init := defaultInit
		defaultMu.Unlock()
		if init == nil {
			logrus.Warn("[VAULT] Default() used before Configure(); deriving key from empty secret")
			init = func() *Vault { return New("") }
		}
		defaultVault = init()
	})
	return defaultVault
}
