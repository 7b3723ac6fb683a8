package crypto

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestSealOpen(t *testing.T) {
	m, err := NewManager("k1", map[string][]byte{
		"k1": mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	raw, err := m.Seal("sk-bot-key")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("sealed value is not an envelope: %v", err)
	}
	if env.KeyID != "k1" {
		t.Fatalf("expected key id k1, got %q", env.KeyID)
	}

	out, err := m.Open(raw)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out != "sk-bot-key" {
		t.Fatalf("expected original string, got %q", out)
	}
}

func TestOptionalBlankStaysNil(t *testing.T) {
	m, err := NewManager("k1", map[string][]byte{
		"k1": mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	sealed, err := m.SealOptional("  ")
	if err != nil {
		t.Fatalf("seal optional: %v", err)
	}
	if sealed != nil {
		t.Fatalf("expected nil for blank value, got %q", *sealed)
	}
	plain, err := m.OpenOptional(nil)
	if err != nil || plain != "" {
		t.Fatalf("expected empty plaintext for nil, got %q err=%v", plain, err)
	}

	sealed, err = m.SealOptional("token")
	if err != nil || sealed == nil {
		t.Fatalf("seal optional value: %v", err)
	}
	plain, err = m.OpenOptional(sealed)
	if err != nil || plain != "token" {
		t.Fatalf("unexpected open optional result %q err=%v", plain, err)
	}
}

func TestRotateOldKeyToNew(t *testing.T) {
	oldKey := mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	newKey := mustKey(t, "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=")

	oldManager, err := NewManager("old", map[string][]byte{"old": oldKey})
	if err != nil {
		t.Fatalf("old manager: %v", err)
	}
	legacy, err := oldManager.Seal("legacy")
	if err != nil {
		t.Fatalf("old seal: %v", err)
	}

	rotated, err := NewManager("new", map[string][]byte{"old": oldKey, "new": newKey})
	if err != nil {
		t.Fatalf("rotated manager: %v", err)
	}
	fresh, changed, err := rotated.Rotate(legacy)
	if err != nil || !changed {
		t.Fatalf("rotate: changed=%v err=%v", changed, err)
	}
	same, changed, err := rotated.Rotate(fresh)
	if err != nil || changed || same != fresh {
		t.Fatalf("current-key secret should be left alone, changed=%v err=%v", changed, err)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(fresh), &env); err != nil {
		t.Fatalf("unmarshal rotated: %v", err)
	}
	if env.KeyID != "new" {
		t.Fatalf("expected rotated envelope under new key, got %q", env.KeyID)
	}
	plain, err := rotated.Open(fresh)
	if err != nil || plain != "legacy" {
		t.Fatalf("unexpected plaintext %q err=%v", plain, err)
	}

	if _, err := oldManager.Open(fresh); err == nil {
		t.Fatalf("expected old manager to reject envelope sealed with unknown key")
	}
}

func TestNewManagerRejectsBadKeys(t *testing.T) {
	if _, err := NewManager("", map[string][]byte{"a": make([]byte, 32)}); err == nil {
		t.Fatalf("expected error for empty current key id")
	}
	if _, err := NewManager("a", map[string][]byte{"a": make([]byte, 16)}); err == nil {
		t.Fatalf("expected error for short key")
	}
	if _, err := NewManager("b", map[string][]byte{"a": make([]byte, 32)}); err == nil {
		t.Fatalf("expected error for missing current key")
	}
}

func mustKey(t *testing.T, b64 string) []byte {
	t.Helper()
	k, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if len(k) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(k))
	}
	return k
}
