// Package identity implements anonymized, per-app stable dynamic-sensor
// IDs derived from a persisted HMAC key.
package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength     = 128
	saltLength    = 32
	pbkdf2Rounds  = 100_000
	derivedKeyLen = 32
)

// Module holds the persisted HMAC key used to derive dynamic-sensor IDs.
// It is read once at construction and never mutated afterwards, so it
// needs no lock.
type Module struct {
	key []byte
	log zerolog.Logger
}

// Load reads the HMAC key from <svcDir>/hmac_key, generating and
// persisting a fresh 128-byte key if the file is absent. Persistence
// failures are logged but not fatal: the service continues with an
// in-memory-only key, meaning dynamic IDs will change across restarts.
//
// If passphrase is non-empty, the key file is encrypted at rest with a
// PBKDF2-derived AES-GCM key instead of being written in the clear; an
// empty passphrase preserves the plaintext format.
func Load(svcDir, passphrase string, log zerolog.Logger) (*Module, error) {
	log = log.With().Str("component", "identity").Logger()
	path := filepath.Join(svcDir, "hmac_key")

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read hmac key %s: %w", path, err)
	}
	if err == nil {
		if key, ok := decodeKeyFile(data, passphrase, path, log); ok {
			return &Module{key: key, log: log}, nil
		}
	}

	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate hmac key: %w", err)
	}

	if err := persist(path, key, passphrase); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to persist hmac key; dynamic sensor IDs will not survive a restart")
	}

	return &Module{key: key, log: log}, nil
}

// decodeKeyFile recovers the raw key from a persisted key file, logging
// and reporting false (regenerate) rather than failing Load outright if
// the format doesn't match the given passphrase.
func decodeKeyFile(data []byte, passphrase, path string, log zerolog.Logger) ([]byte, bool) {
	if passphrase == "" {
		if len(data) != keyLength {
			log.Warn().Str("path", path).Int("len", len(data)).Msg("hmac key file has wrong length, regenerating")
			return nil, false
		}
		return data, true
	}

	key, err := decryptKeyFile(data, passphrase)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to decrypt persisted hmac key, regenerating")
		return nil, false
	}
	if len(key) != keyLength {
		log.Warn().Str("path", path).Int("len", len(key)).Msg("decrypted hmac key has wrong length, regenerating")
		return nil, false
	}
	return key, true
}

func persist(path string, key []byte, passphrase string) error {
	payload := key
	if passphrase != "" {
		encrypted, err := encryptKeyFile(key, passphrase)
		if err != nil {
			return fmt.Errorf("encrypt hmac key: %w", err)
		}
		payload = encrypted
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o400); err != nil {
		return fmt.Errorf("write temp key file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("activate key file: %w", err)
	}
	return nil
}

// encryptKeyFile and decryptKeyFile lay out a persisted encrypted key file
// as salt||nonce||ciphertext, with the PBKDF2-derived key never itself
// touching disk.
func encryptKeyFile(key []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Rounds, derivedKeyLen, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, key, nil)
	return append(salt, ciphertext...), nil
}

func decryptKeyFile(data []byte, passphrase string) ([]byte, error) {
	if len(data) < saltLength {
		return nil, fmt.Errorf("key file shorter than salt")
	}
	salt, body := data[:saltLength], data[saltLength:]
	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Rounds, derivedKeyLen, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(body) < gcm.NonceSize() {
		return nil, fmt.Errorf("key file shorter than nonce")
	}
	nonce, ciphertext := body[:gcm.NonceSize()], body[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

var (
	zeroUUID = [16]byte{}
	onesUUID = func() (u [16]byte) {
		for i := range u {
			u[i] = 0xFF
		}
		return
	}()
)

// IsAllZero reports whether uuid is the all-zeros sentinel.
func IsAllZero(uuid [16]byte) bool { return uuid == zeroUUID }

// IsAllOnes reports whether uuid is the all-ones sentinel ("identify by
// type+name combination").
func IsAllOnes(uuid [16]byte) bool { return uuid == onesUUID }

// IDFromUUID derives the anonymized dynamic-sensor ID for uuid as seen by
// callerUID:
//
//   - all-zero uuid -> 0
//   - all-one uuid  -> -1
//   - otherwise HMAC-SHA256(key, uuid||uid), first 4 bytes as signed int32,
//     with 0 and -1 remapped to 1 and -2 to avoid colliding with the
//     sentinels above.
func (m *Module) IDFromUUID(uuid [16]byte, callerUID uint32) int32 {
	if IsAllZero(uuid) {
		return 0
	}
	if IsAllOnes(uuid) {
		return -1
	}

	mac := hmac.New(sha256.New, m.key)
	mac.Write(uuid[:])
	var uidBuf [4]byte
	binary.BigEndian.PutUint32(uidBuf[:], callerUID)
	mac.Write(uidBuf[:])
	sum := mac.Sum(nil)

	id := int32(binary.BigEndian.Uint32(sum[:4]))
	switch id {
	case 0:
		return 1
	case -1:
		return -2
	default:
		return id
	}
}

// Anonymize returns the all-zero UUID, used to strip a sensor's real UUID
// before exposing it to a non-privileged caller.
func Anonymize([16]byte) [16]byte {
	return zeroUUID
}
