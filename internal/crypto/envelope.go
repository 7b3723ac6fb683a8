package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope is the at-rest form of a secret (platform tokens, AI API keys,
// payment gateway credentials). It is stored as a JSON string.
type Envelope struct {
	KeyID      string `json:"key_id"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type Manager struct {
	currentKeyID string
	keys         map[string]cipher.AEAD
}

func NewManager(currentKeyID string, keys map[string][]byte) (*Manager, error) {
	if currentKeyID == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("keys map is empty")
	}
	if _, ok := keys[currentKeyID]; !ok {
		return nil, fmt.Errorf("current key id %q not found", currentKeyID)
	}
	aeads := make(map[string]cipher.AEAD, len(keys))
	for id, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("new cipher %q: %w", id, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("new gcm %q: %w", id, err)
		}
		aeads[id] = aead
	}
	return &Manager{currentKeyID: currentKeyID, keys: aeads}, nil
}

func (m *Manager) encrypt(plaintext []byte) (Envelope, error) {
	aead := m.keys[m.currentKeyID]
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("nonce: %w", err)
	}
	return Envelope{
		KeyID:      m.currentKeyID,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plaintext, nil)),
	}, nil
}

func (m *Manager) decrypt(env Envelope) ([]byte, error) {
	aead, ok := m.keys[env.KeyID]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", env.KeyID)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// Seal encrypts value with the current key and returns the JSON envelope.
func (m *Manager) Seal(value string) (string, error) {
	env, err := m.encrypt([]byte(value))
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(b), nil
}

// Open decrypts an envelope produced by Seal with any known key.
func (m *Manager) Open(raw string) (string, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return "", fmt.Errorf("unmarshal envelope: %w", err)
	}
	pt, err := m.decrypt(env)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// SealOptional returns nil for blank values so that "not configured" stays NULL in storage.
func (m *Manager) SealOptional(value string) (*string, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	sealed, err := m.Seal(value)
	if err != nil {
		return nil, err
	}
	return &sealed, nil
}

func (m *Manager) OpenOptional(raw *string) (string, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return "", nil
	}
	return m.Open(*raw)
}

// Rotate re-seals a stored secret with the current key. Secrets already under
// the current key are returned unchanged with changed false.
func (m *Manager) Rotate(raw string) (sealed string, changed bool, err error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return "", false, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.KeyID == m.currentKeyID {
		return raw, false, nil
	}
	plain, err := m.decrypt(env)
	if err != nil {
		return "", false, err
	}
	sealed, err = m.Seal(string(plain))
	if err != nil {
		return "", false, err
	}
	return sealed, true, nil
}
