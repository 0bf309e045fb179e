package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"

	"github.com/credstack/credstack/internal/enum"
	er "github.com/credstack/credstack/internal/errors"
)

// Cipher encrypts and decrypts sensitive account fields at rest.
// Ciphertext is framed as "<version>:<hex nonce>:<hex ciphertext>" so the
// algorithm/key generation of every record is explicit and re-encryption
// migrations never have to probe-decrypt to classify a value.
type Cipher struct {
	key     []byte
	version enum.CipherVersion
}

type Config struct {
	Secret string `env:"ENCRYPTION_SECRET,required"`
	Salt   string `env:"ENCRYPTION_SALT,required"`
}

func NewCipher(cfg *Config) (*Cipher, error) {
	if cfg.Secret == "" || cfg.Salt == "" {
		return nil, errors.New("encryption secret and salt are required")
	}
	return &Cipher{
		key:     deriveKey([]byte(cfg.Secret), []byte(cfg.Salt)),
		version: enum.CipherV1,
	}, nil
}

// deriveKey stretches the configured secret into a 256-bit AES key.
func deriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
}

// Version reports the cipher generation stamped on newly written records.
func (c *Cipher) Version() enum.CipherVersion {
	return c.version
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce.
// The same plaintext yields different ciphertext on every call.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", errors.Wrap(err, "failed to initialize cipher")
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "failed to initialize gcm")
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "failed to generate nonce")
	}

	ciphertext := aesgcm.Seal(nil, nonce, []byte(plaintext), nil)

	return c.version.String() + ":" + hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt is the strict inverse of Encrypt. It returns ErrDecryptionFailed
// on unknown version tags, malformed framing, or an authentication failure,
// and never falls back to treating the input as plaintext.
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 3)
	if len(parts) != 3 {
		return "", errors.Wrap(er.ErrDecryptionFailed, "malformed ciphertext framing")
	}
	if parts[0] != c.version.String() {
		return "", errors.Wrapf(er.ErrDecryptionFailed, "unsupported cipher version %q", parts[0])
	}

	nonce, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", errors.Wrap(er.ErrDecryptionFailed, "invalid nonce encoding")
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", errors.Wrap(er.ErrDecryptionFailed, "invalid ciphertext encoding")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", errors.Wrap(err, "failed to initialize cipher")
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "failed to initialize gcm")
	}
	if len(nonce) != aesgcm.NonceSize() {
		return "", errors.Wrap(er.ErrDecryptionFailed, "invalid nonce size")
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// wrong key or tampered record; detail stays out of logs
		return "", er.ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// IsEncrypted reports whether a stored value carries the current version tag.
// Used by the migrate command to find legacy plaintext rows without
// probe-decrypting them.
func IsEncrypted(value string) bool {
	parts := strings.SplitN(value, ":", 3)
	return len(parts) == 3 && parts[0] == enum.CipherV1.String()
}
