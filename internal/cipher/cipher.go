// Package cipher provides AES-256-GCM authenticated encryption for
// verification codes at rest, backed by an in-memory key ring that
// supports rotation and decryption under prior keys.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KeySize is the length in bytes of a root key (256 bits).
const KeySize = 32

// ErrKeyNotFound is returned when a ciphertext references a key ID no
// longer present in the ring (evicted by rotation).
var ErrKeyNotFound = errors.New("cipher: key not found in ring")

// ErrDecryptFailed is returned when authentication fails on open —
// tampered ciphertext, wrong AAD, or wrong key.
var ErrDecryptFailed = errors.New("cipher: decryption failed")

// Sealed is an encrypted record: the ciphertext, the nonce it was sealed
// with (kept in its own field), the ID of the key that produced it, and
// the time it was created.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
	KeyID      string
	CreatedAt  time.Time
}

// entry is a single generation of key material in the ring.
type entry struct {
	id      string
	aead    cipher.AEAD
	created time.Time
}

// Ring is a keyring of AEAD ciphers keyed by key ID. One key is always
// active; prior keys are retained for decryption up to a retention bound.
// Safe for concurrent use: rotation and verification never block each other
// for long, since both only ever hold the lock for map access.
type Ring struct {
	mu        sync.RWMutex
	keys      map[string]*entry
	order     []string // oldest to newest, for eviction
	activeID  string
	retention int // number of prior keys kept besides the active one
}

// NewRing creates a key ring with one freshly generated active key.
// retention is the number of prior keys kept for decrypt after rotation;
// values <= 0 fall back to the default of 3.
func NewRing(retention int) (*Ring, error) {
	if retention <= 0 {
		retention = 3
	}
	r := &Ring{
		keys:      make(map[string]*entry),
		retention: retention,
	}
	if _, err := r.addKey(); err != nil {
		return nil, err
	}
	return r, nil
}

// addKey generates a fresh 256-bit key, installs it as active, and
// evicts the oldest retained key if the ring has grown past its bound.
// Caller must not hold the lock.
func (r *Ring) addKey() (string, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("cipher: generate key: %w", err)
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return "", fmt.Errorf("cipher: new AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher: new GCM: %w", err)
	}

	id := uuid.NewString()
	e := &entry{id: id, aead: aead, created: time.Now()}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[id] = e
	r.order = append(r.order, id)
	r.activeID = id

	for len(r.order) > r.retention+1 {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.keys, evict)
	}
	return id, nil
}

// Rotate generates a new active key and retains the previous active key
// (and up to retention-1 keys before it) for decryption.
func (r *Ring) Rotate() (string, error) {
	return r.addKey()
}

// ActiveKeyID returns the ID of the currently active key.
func (r *Ring) ActiveKeyID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

func (r *Ring) active() (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.keys[r.activeID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return e, nil
}

func (r *Ring) byID(keyID string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return e, nil
}

// Encrypt seals plaintext under the ring's active key. phone is mixed into
// the authenticated additional data so a ciphertext cannot be replayed
// against a different phone number.
func (r *Ring) Encrypt(plaintext []byte, phone string) (Sealed, error) {
	e, err := r.active()
	if err != nil {
		return Sealed{}, err
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("cipher: generate nonce: %w", err)
	}

	aad := []byte(phone)
	ciphertext := e.aead.Seal(nil, nonce, plaintext, aad)

	return Sealed{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		KeyID:      e.id,
		CreatedAt:  time.Now(),
	}, nil
}

// Decrypt opens a Sealed record under the key identified by its KeyID,
// binding the same phone used at encryption time.
func (r *Ring) Decrypt(s Sealed, phone string) ([]byte, error) {
	e, err := r.byID(s.KeyID)
	if err != nil {
		return nil, err
	}
	aad := []byte(phone)
	plaintext, err := e.aead.Open(nil, s.Nonce, s.Ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// Verify checks a candidate plaintext against a sealed record in constant
// time, without leaking timing information about where a mismatch occurs.
func (r *Ring) Verify(s Sealed, phone string, candidate []byte) (bool, error) {
	plaintext, err := r.Decrypt(s, phone)
	if err != nil {
		if errors.Is(err, ErrDecryptFailed) {
			return false, nil
		}
		return false, err
	}
	if len(plaintext) != len(candidate) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(plaintext, candidate) == 1, nil
}
