package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hyperregistry/internal/api"
	"hyperregistry/pkg/canonical"
	"hyperregistry/pkg/logging"
)

const subsystem = "Crypto"

// DefaultRingDepth is how many previous keys stay decryptable after rotation.
const DefaultRingDepth = 3

const keySize = 32

// keyFile is the on-disk format of the key material.
type keyFile struct {
	// Active is the base64url key used for all new encryptions.
	Active string `json:"active"`

	// Ring holds previously active keys, newest first.
	Ring []string `json:"ring,omitempty"`
}

// Manager seals and opens payloads. Safe for concurrent use; rotation
// swaps the key set copy-on-write so readers never block on it.
type Manager struct {
	path      string
	ringDepth int

	mu   sync.RWMutex
	keys *keySet // replaced wholesale on rotation
}

type keySet struct {
	active    []byte
	activeRef string // short ref carried in ciphertexts
	ring      [][]byte
	ringRefs  []string
}

// NewManager loads the key file at path, generating a fresh key when the
// file does not exist. ringDepth <= 0 selects DefaultRingDepth.
func NewManager(path string, ringDepth int) (*Manager, error) {
	if ringDepth <= 0 {
		ringDepth = DefaultRingDepth
	}
	m := &Manager{path: path, ringDepth: ringDepth}

	blob, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := m.generateInitial(); err != nil {
			return nil, err
		}
		logging.Info(subsystem, "Generated new encryption key at %s", path)
	case err != nil:
		return nil, api.NewEncryptionError("load_key", err.Error())
	default:
		var kf keyFile
		if err := json.Unmarshal(blob, &kf); err != nil {
			return nil, api.NewEncryptionError("load_key", fmt.Sprintf("key file corrupt: %v", err))
		}
		ks, err := parseKeySet(kf)
		if err != nil {
			return nil, err
		}
		m.keys = ks
	}
	return m, nil
}

func (m *Manager) generateInitial() error {
	key, err := randomKey()
	if err != nil {
		return err
	}
	ks := &keySet{active: key, activeRef: keyRef(key)}
	if err := persist(m.path, ks); err != nil {
		return err
	}
	m.keys = ks
	return nil
}

func randomKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, api.NewEncryptionError("generate", err.Error())
	}
	return key, nil
}

// keyRef derives the short identifier embedded in ciphertexts from the
// key's SHA-256 digest, so the ref carries no key material. Stable
// across restarts.
func keyRef(key []byte) string {
	sum := sha256.Sum256(key)
	return base64.RawURLEncoding.EncodeToString(sum[:])[:8]
}

func parseKeySet(kf keyFile) (*keySet, error) {
	active, err := base64.RawURLEncoding.DecodeString(kf.Active)
	if err != nil || len(active) != keySize {
		return nil, api.NewEncryptionError("load_key", "active key invalid")
	}
	ks := &keySet{active: active, activeRef: keyRef(active)}
	for _, enc := range kf.Ring {
		key, err := base64.RawURLEncoding.DecodeString(enc)
		if err != nil || len(key) != keySize {
			return nil, api.NewEncryptionError("load_key", "ring key invalid")
		}
		ks.ring = append(ks.ring, key)
		ks.ringRefs = append(ks.ringRefs, keyRef(key))
	}
	return ks, nil
}

func persist(path string, ks *keySet) error {
	kf := keyFile{Active: base64.RawURLEncoding.EncodeToString(ks.active)}
	for _, key := range ks.ring {
		kf.Ring = append(kf.Ring, base64.RawURLEncoding.EncodeToString(key))
	}
	blob, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return api.NewEncryptionError("persist", err.Error())
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return api.NewEncryptionError("persist", err.Error())
		}
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return api.NewEncryptionError("persist", err.Error())
	}
	return nil
}

// ActiveKeyRef returns the short reference of the active key, recorded on
// streams so their ciphertexts can be traced to a key generation.
func (m *Manager) ActiveKeyRef() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys.activeRef
}

// Rotate installs a fresh active key. The previous active key moves to
// the front of the ring; the ring is truncated to the configured depth.
func (m *Manager) Rotate() error {
	key, err := randomKey()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.keys
	next := &keySet{
		active:    key,
		activeRef: keyRef(key),
		ring:      append([][]byte{old.active}, old.ring...),
		ringRefs:  append([]string{old.activeRef}, old.ringRefs...),
	}
	if len(next.ring) > m.ringDepth {
		next.ring = next.ring[:m.ringDepth]
		next.ringRefs = next.ringRefs[:m.ringDepth]
	}
	if err := persist(m.path, next); err != nil {
		return err
	}
	m.keys = next
	logging.Info(subsystem, "Rotated encryption key, ring depth %d", len(next.ring))
	return nil
}

// Ciphertext layout: ref(8) || nonce(12) || sealed, base64url-encoded.

// Encrypt seals plaintext with the active key.
func (m *Manager) Encrypt(plaintext []byte) (string, error) {
	m.mu.RLock()
	ks := m.keys
	m.mu.RUnlock()

	gcm, err := newGCM(ks.active)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", api.NewEncryptionError("encrypt", err.Error())
	}

	sealed := gcm.Seal(nil, nonce, plaintext, []byte(ks.activeRef))
	packed := append([]byte(ks.activeRef), nonce...)
	packed = append(packed, sealed...)
	return base64.RawURLEncoding.EncodeToString(packed), nil
}

// Decrypt opens a ciphertext produced by Encrypt, trying the active key
// first and then the retained ring.
func (m *Manager) Decrypt(ciphertext string) ([]byte, error) {
	packed, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, api.NewEncryptionError("decrypt", "ciphertext not base64url")
	}
	if len(packed) < 8+12 {
		return nil, api.NewEncryptionError("decrypt", "ciphertext too short")
	}
	ref := string(packed[:8])
	nonce := packed[8 : 8+12]
	sealed := packed[8+12:]

	m.mu.RLock()
	ks := m.keys
	m.mu.RUnlock()

	for i, candidateRef := range append([]string{ks.activeRef}, ks.ringRefs...) {
		if candidateRef != ref {
			continue
		}
		var key []byte
		if i == 0 {
			key = ks.active
		} else {
			key = ks.ring[i-1]
		}
		gcm, err := newGCM(key)
		if err != nil {
			return nil, err
		}
		plaintext, err := gcm.Open(nil, nonce, sealed, []byte(ref))
		if err != nil {
			return nil, api.NewEncryptionError("decrypt", "authentication failed")
		}
		return plaintext, nil
	}
	return nil, api.NewEncryptionError("decrypt", fmt.Sprintf("no key for ref %s", ref))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, api.NewEncryptionError("encrypt", err.Error())
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, api.NewEncryptionError("encrypt", err.Error())
	}
	return gcm, nil
}

// EncryptMap seals the canonical JSON of obj.
func (m *Manager) EncryptMap(obj map[string]interface{}) (string, error) {
	text, err := canonical.Marshal(obj)
	if err != nil {
		return "", api.NewEncryptionError("encrypt", err.Error())
	}
	return m.Encrypt([]byte(text))
}

// DecryptMap opens a ciphertext produced by EncryptMap.
func (m *Manager) DecryptMap(ciphertext string) (map[string]interface{}, error) {
	plaintext, err := m.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(plaintext, &obj); err != nil {
		return nil, api.NewEncryptionError("decrypt", "plaintext is not a JSON object")
	}
	return obj, nil
}
