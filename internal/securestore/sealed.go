package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// sealKeyLen selects AES-256.
	sealKeyLen = 32
)

// Sealed encrypts values with AES-GCM before handing them to the inner
// backend. Stored values are base64([12-byte nonce][ciphertext+tag]).
type Sealed struct {
	inner Backend
	gcm   cipher.AEAD
}

// NewSealed derives a key from passphrase and salt with scrypt. Both
// are NFKC normalized first so the same passphrase typed on different
// platforms derives the same key.
func NewSealed(inner Backend, passphrase, salt string) (*Sealed, error) {
	key, err := scrypt.Key(
		[]byte(norm.NFKC.String(passphrase)),
		[]byte(norm.NFKC.String(salt)),
		scryptN, scryptR, scryptP, sealKeyLen,
	)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	clear(key)

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Sealed{inner: inner, gcm: gcm}, nil
}

// Unwrap returns the inner backend.
func (s *Sealed) Unwrap() Backend {
	return s.inner
}

// Get decrypts the value stored under key.
func (s *Sealed) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}

	data, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", false, fmt.Errorf("decoding sealed value: %w", err)
	}

	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize+s.gcm.Overhead() {
		return "", false, fmt.Errorf("sealed value too short: %d bytes", len(data))
	}

	plaintext, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], []byte(key))
	if err != nil {
		return "", false, fmt.Errorf("opening sealed value: %w", err)
	}

	return string(plaintext), true, nil
}

// Set encrypts value and stores it under key. The key is bound as
// additional data so a value cannot be moved between keys.
func (s *Sealed) Set(ctx context.Context, key, value string) error {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	sealed := s.gcm.Seal(nonce, nonce, []byte(value), []byte(key))

	return s.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}

// RemoveAll clears the inner backend.
func (s *Sealed) RemoveAll(ctx context.Context) error {
	return s.inner.RemoveAll(ctx)
}

// Close closes the inner backend.
func (s *Sealed) Close() error {
	return s.inner.Close()
}

// AsWatcher returns the Watcher behind b, looking through Sealed.
func AsWatcher(b Backend) (Watcher, bool) {
	for {
		if w, ok := b.(Watcher); ok {
			return w, true
		}

		u, ok := b.(interface{ Unwrap() Backend })
		if !ok {
			return nil, false
		}

		b = u.Unwrap()
	}
}
