package cytoqc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the nonce size for AES-GCM
	EncryptionNonceSize = 12
	// EncryptionSaltSize is the salt size for key derivation
	EncryptionSaltSize = 32
	// EncryptionKeySize is the AES-256 key size
	EncryptionKeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation
	PBKDF2Iterations = 100000
)

// MagicSealed prefixes every sealed report blob.
var MagicSealed = [4]byte{'C', 'Q', 'C', 'E'}

// sealedVersion is the current sealed blob layout.
const sealedVersion = 1

// SealedHeaderSize is the size of the sealed blob header: magic, version and
// salt.
const SealedHeaderSize = 4 + 1 + EncryptionSaltSize

var (
	// ErrNotSealed is returned when a blob lacks the sealed header.
	ErrNotSealed = errors.New("blob is not encrypted")
	// ErrDecrypt is returned when authentication of a sealed blob fails.
	ErrDecrypt = errors.New("decryption failed")
)

// EncryptionConfig configures encryption of stored reports.
type EncryptionConfig struct {
	// Enabled turns on encryption.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Key is a raw AES-256 key. If empty, KeyPassword is used to derive one.
	Key []byte `yaml:"-" json:"-"`
	// KeyPassword derives the key via PBKDF2 with a per-encryptor salt.
	KeyPassword string `yaml:"key_password" json:"-"`
}

// Encryptor seals and opens report blobs with AES-GCM.
type Encryptor struct {
	gcm      cipher.AEAD
	salt     []byte
	password string

	// Keys derived for salts found in blobs written by other encryptors.
	mu      sync.Mutex
	derived map[string]cipher.AEAD
}

// NewEncryptor creates an encryptor from a key or password. It returns nil
// when encryption is disabled.
func NewEncryptor(cfg EncryptionConfig) (*Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	salt := make([]byte, EncryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	var key []byte
	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != EncryptionKeySize {
			return nil, errors.New("encryption key must be 32 bytes for AES-256")
		}
		key = cfg.Key
	case cfg.KeyPassword != "":
		key = deriveKey(cfg.KeyPassword, salt)
	default:
		return nil, errors.New("encryption enabled but no key or password provided")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Encryptor{
		gcm:      gcm,
		salt:     salt,
		password: cfg.KeyPassword,
		derived:  make(map[string]cipher.AEAD),
	}, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Salt returns the salt written into sealed blobs.
func (e *Encryptor) Salt() []byte {
	return e.salt
}

// Seal encrypts plaintext into a self-describing blob:
// magic | version | salt | nonce | ciphertext.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, EncryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, SealedHeaderSize+EncryptionNonceSize+len(plaintext)+e.gcm.Overhead())
	out = append(out, MagicSealed[:]...)
	out = append(out, sealedVersion)
	out = append(out, e.salt...)
	out = append(out, nonce...)
	return e.gcm.Seal(out, nonce, plaintext, out[:SealedHeaderSize]), nil
}

// Open decrypts a blob produced by Seal. Blobs sealed under another salt
// are opened by re-deriving the key from the password.
func (e *Encryptor) Open(blob []byte) ([]byte, error) {
	if !IsSealed(blob) {
		return nil, ErrNotSealed
	}
	if len(blob) < SealedHeaderSize+EncryptionNonceSize {
		return nil, errors.New("sealed blob too short")
	}
	header := blob[:SealedHeaderSize]
	salt := header[5:]
	nonce := blob[SealedHeaderSize : SealedHeaderSize+EncryptionNonceSize]

	gcm, err := e.aeadFor(salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, blob[SealedHeaderSize+EncryptionNonceSize:], header)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (e *Encryptor) aeadFor(salt []byte) (cipher.AEAD, error) {
	if e.password == "" || bytes.Equal(salt, e.salt) {
		return e.gcm, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if gcm, ok := e.derived[string(salt)]; ok {
		return gcm, nil
	}
	gcm, err := newGCM(deriveKey(e.password, salt))
	if err != nil {
		return nil, err
	}
	e.derived[string(salt)] = gcm
	return gcm, nil
}

// IsSealed reports whether blob starts with the sealed header magic.
func IsSealed(blob []byte) bool {
	return len(blob) >= len(MagicSealed) && bytes.Equal(blob[:len(MagicSealed)], MagicSealed[:])
}
