package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// Sealer protects installation secrets at rest.
type Sealer interface {
	Seal(ctx context.Context, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, sealed []byte) ([]byte, error)
}

type Option func(*AppKeySealer)

type appKey struct {
	id      string
	version int
	aead    cipher.AEAD
}

// AppKeySealer seals with AES-GCM under the current application key. Previous
// keys registered with WithPreviousKey can still open values sealed before a
// rotation.
type AppKeySealer struct {
	current  appKey
	previous []appKey
	random   io.Reader
	errs     []error
}

func WithKeyID(id string) Option {
	return func(s *AppKeySealer) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			s.current.id = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(s *AppKeySealer) {
		if version > 0 {
			s.current.version = version
		}
	}
}

// WithPreviousKey registers a retired key that may still open sealed values.
func WithPreviousKey(id string, version int, keyMaterial []byte) Option {
	return func(s *AppKeySealer) {
		aead, err := newAEAD(keyMaterial)
		if err != nil {
			s.errs = append(s.errs, fmt.Errorf("security: previous key %q: %w", id, err))
			return
		}
		s.previous = append(s.previous, appKey{id: strings.TrimSpace(id), version: version, aead: aead})
	}
}

func NewAppKeySealer(keyMaterial []byte, opts ...Option) (*AppKeySealer, error) {
	aead, err := newAEAD(keyMaterial)
	if err != nil {
		return nil, err
	}
	sealer := &AppKeySealer{
		current: appKey{id: "app-key", version: 1, aead: aead},
		random:  rand.Reader,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(sealer)
	}
	if len(sealer.errs) > 0 {
		return nil, sealer.errs[0]
	}
	return sealer, nil
}

func NewAppKeySealerFromString(key string, opts ...Option) (*AppKeySealer, error) {
	return NewAppKeySealer([]byte(key), opts...)
}

func (s *AppKeySealer) Seal(_ context.Context, plaintext []byte) ([]byte, error) {
	if s == nil || s.current.aead == nil {
		return nil, fmt.Errorf("security: sealer is not configured")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	nonce := make([]byte, s.current.aead.NonceSize())
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := s.current.aead.Seal(nil, nonce, plaintext, s.current.additionalData())
	return encodeEnvelope(envelope{
		KeyID:      s.current.id,
		Version:    s.current.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
}

func (s *AppKeySealer) Open(_ context.Context, sealed []byte) ([]byte, error) {
	if s == nil || s.current.aead == nil {
		return nil, fmt.Errorf("security: sealer is not configured")
	}
	env, err := decodeEnvelope(sealed)
	if err != nil {
		return nil, err
	}
	key, ok := s.keyFor(env.KeyID, env.Version)
	if !ok {
		return nil, fmt.Errorf("security: no key for id %q version %d", env.KeyID, env.Version)
	}
	nonce, err := decodePayload("nonce", env.Nonce)
	if err != nil {
		return nil, err
	}
	if len(nonce) != key.aead.NonceSize() {
		return nil, fmt.Errorf("security: invalid nonce length %d", len(nonce))
	}
	payload, err := decodePayload("ciphertext", env.Ciphertext)
	if err != nil {
		return nil, err
	}
	plaintext, err := key.aead.Open(nil, nonce, payload, key.additionalData())
	if err != nil {
		return nil, fmt.Errorf("security: open sealed value: %w", err)
	}
	return plaintext, nil
}

func (s *AppKeySealer) KeyID() string {
	if s == nil {
		return ""
	}
	return s.current.id
}

func (s *AppKeySealer) Version() int {
	if s == nil {
		return 0
	}
	return s.current.version
}

func (s *AppKeySealer) keyFor(id string, version int) (appKey, bool) {
	candidates := append([]appKey{s.current}, s.previous...)
	for _, candidate := range candidates {
		if candidate.id == id && candidate.version == version {
			return candidate, true
		}
	}
	return appKey{}, false
}

// The key id and version are bound into the ciphertext so an envelope cannot
// be relabelled to another key.
func (k appKey) additionalData() []byte {
	return []byte(fmt.Sprintf("%s:%d", k.id, k.version))
}

func newAEAD(keyMaterial []byte) (cipher.AEAD, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return aead, nil
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	return sum[:]
}

var _ Sealer = (*AppKeySealer)(nil)
