package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadGeneratesAndPersistsKey(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(dir, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(m.key) != keyLength {
		t.Fatalf("expected key length %d, got %d", keyLength, len(m.key))
	}

	data, err := os.ReadFile(filepath.Join(dir, "hmac_key"))
	if err != nil {
		t.Fatalf("expected key to be persisted: %v", err)
	}
	if len(data) != keyLength {
		t.Errorf("persisted key has wrong length %d", len(data))
	}
}

func TestLoadReusesPersistedKey(t *testing.T) {
	dir := t.TempDir()
	m1, err := Load(dir, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("first Load failed: %v", err)
	}
	m2, err := Load(dir, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}

	uuid := [16]byte{1, 2, 3}
	if m1.IDFromUUID(uuid, 1000) != m2.IDFromUUID(uuid, 1000) {
		t.Error("expected same derived ID across reloads of the persisted key")
	}
}

func TestLoadRegeneratesOnWrongLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hmac_key")
	if err := os.WriteFile(path, []byte("too short"), 0o600); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}
	m, err := Load(dir, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(m.key) != keyLength {
		t.Errorf("expected regenerated key of length %d, got %d", keyLength, len(m.key))
	}
}

func TestLoadWithPassphraseEncryptsKeyFileAtRest(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(dir, "correct horse battery staple", zerolog.Nop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "hmac_key"))
	if err != nil {
		t.Fatalf("expected key to be persisted: %v", err)
	}
	if len(data) == keyLength {
		t.Error("expected the persisted file to be encrypted, not the raw key")
	}
	if len(m.key) != keyLength {
		t.Errorf("expected decrypted in-memory key length %d, got %d", keyLength, len(m.key))
	}
}

func TestLoadReusesEncryptedKeyWithMatchingPassphrase(t *testing.T) {
	dir := t.TempDir()
	m1, err := Load(dir, "hunter2", zerolog.Nop())
	if err != nil {
		t.Fatalf("first Load failed: %v", err)
	}
	m2, err := Load(dir, "hunter2", zerolog.Nop())
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}

	uuid := [16]byte{4, 5, 6}
	if m1.IDFromUUID(uuid, 2000) != m2.IDFromUUID(uuid, 2000) {
		t.Error("expected same derived ID across reloads of the encrypted key")
	}
}

func TestLoadRegeneratesWhenPassphraseNoLongerMatches(t *testing.T) {
	dir := t.TempDir()
	m1, err := Load(dir, "original-passphrase", zerolog.Nop())
	if err != nil {
		t.Fatalf("first Load failed: %v", err)
	}
	m2, err := Load(dir, "different-passphrase", zerolog.Nop())
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}

	uuid := [16]byte{7, 8, 9}
	if m1.IDFromUUID(uuid, 3000) == m2.IDFromUUID(uuid, 3000) {
		t.Error("expected a fresh key when the passphrase no longer decrypts the persisted file")
	}
}

func TestIsAllZeroAndAllOnes(t *testing.T) {
	if !IsAllZero([16]byte{}) {
		t.Error("expected zero UUID to be recognized")
	}
	var ones [16]byte
	for i := range ones {
		ones[i] = 0xFF
	}
	if !IsAllOnes(ones) {
		t.Error("expected all-ones UUID to be recognized")
	}
	if IsAllZero(ones) || IsAllOnes([16]byte{}) {
		t.Error("sentinels must not cross-match")
	}
}

func TestIDFromUUIDSentinels(t *testing.T) {
	m := &Module{key: []byte("test-key-not-used-for-sentinels")}
	if got := m.IDFromUUID([16]byte{}, 1000); got != 0 {
		t.Errorf("expected 0 for all-zero uuid, got %d", got)
	}
	var ones [16]byte
	for i := range ones {
		ones[i] = 0xFF
	}
	if got := m.IDFromUUID(ones, 1000); got != -1 {
		t.Errorf("expected -1 for all-ones uuid, got %d", got)
	}
}

func TestIDFromUUIDDeterministicPerKeyUUIDAndUID(t *testing.T) {
	m := &Module{key: []byte("a-fixed-test-key-for-determinism")}
	uuid := [16]byte{9, 8, 7, 6}
	a := m.IDFromUUID(uuid, 42)
	b := m.IDFromUUID(uuid, 42)
	if a != b {
		t.Error("expected deterministic ID for the same uuid+uid")
	}
}

func TestIDFromUUIDVariesByCallerUID(t *testing.T) {
	m := &Module{key: []byte("a-fixed-test-key-for-determinism")}
	uuid := [16]byte{9, 8, 7, 6}
	a := m.IDFromUUID(uuid, 42)
	b := m.IDFromUUID(uuid, 43)
	if a == b {
		t.Error("expected different IDs for different caller UIDs (same uuid)")
	}
}

func TestIDFromUUIDVariesByUUID(t *testing.T) {
	m := &Module{key: []byte("a-fixed-test-key-for-determinism")}
	a := m.IDFromUUID([16]byte{1}, 42)
	b := m.IDFromUUID([16]byte{2}, 42)
	if a == b {
		t.Error("expected different IDs for different uuids (same caller)")
	}
}

func TestIDFromUUIDNeverCollidesWithSentinelValues(t *testing.T) {
	m := &Module{key: []byte("a-fixed-test-key-for-determinism")}
	for uid := uint32(0); uid < 200; uid++ {
		for b := byte(0); b < 50; b++ {
			id := m.IDFromUUID([16]byte{b, b + 1, b + 2}, uid)
			if id == 0 || id == -1 {
				t.Fatalf("derived ID collided with a sentinel value: %d", id)
			}
		}
	}
}

func TestAnonymizeReturnsZeroUUID(t *testing.T) {
	if got := Anonymize([16]byte{1, 2, 3}); got != ([16]byte{}) {
		t.Errorf("expected zero UUID, got %v", got)
	}
}
