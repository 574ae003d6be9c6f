// Package secrets keeps provider credentials in an AES-256-GCM encrypted
// vault next to the config file. The master key comes from the environment,
// the OS keyring or a local key file.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// VaultFileName is the encrypted credential file inside the config dir.
	VaultFileName = "credentials.vault"
	keyFileName   = "master.key"

	keyringService = "sysclaw.credentials"
	keyringUser    = "master-key"
	vaultAAD       = "sysclaw-credentials-v1"
	vaultVersion   = "v1"

	// MasterKeyEnv overrides every key backend.
	MasterKeyEnv = "SYSCLAW_MASTER_KEY"
	// KeyBackendEnv selects keyring, file or auto.
	KeyBackendEnv = "SYSCLAW_KEY_BACKEND"
)

// ErrNoMasterKey is returned when a vault exists but its key cannot be found.
var ErrNoMasterKey = errors.New("vault master key not found")

var keyPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

type sealedVault struct {
	Version    string `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Vault is an encrypted map of environment-style credentials.
type Vault struct {
	dir string
}

// Open returns the vault stored in dir. Nothing is read until Load.
func Open(dir string) *Vault {
	return &Vault{dir: dir}
}

// Path is the vault file location.
func (v *Vault) Path() string {
	return filepath.Join(v.dir, VaultFileName)
}

// Exists reports whether the vault file has been written.
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.Path())
	return err == nil
}

// Load decrypts the vault. A missing vault is empty.
func (v *Vault) Load() (map[string]string, error) {
	data, err := os.ReadFile(v.Path())
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	key, err := v.masterKey(false)
	if err != nil {
		return nil, err
	}
	return open(data, key)
}

// Set stores value under key, creating the vault and its master key on
// first use.
func (v *Vault) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid credential name %q: use upper-case letters, digits and underscores", key)
	}
	if value == "" {
		return fmt.Errorf("empty value for %s", key)
	}
	kv, err := v.Load()
	if err != nil {
		return err
	}
	kv[key] = value
	return v.save(kv)
}

// Delete removes key and reports whether it was present.
func (v *Vault) Delete(key string) (bool, error) {
	kv, err := v.Load()
	if err != nil {
		return false, err
	}
	if _, ok := kv[key]; !ok {
		return false, nil
	}
	delete(kv, key)
	return true, v.save(kv)
}

// Keys lists the stored credential names in sorted order.
func (v *Vault) Keys() ([]string, error) {
	kv, err := v.Load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (v *Vault) save(kv map[string]string) error {
	key, err := v.masterKey(true)
	if err != nil {
		return err
	}
	data, err := seal(kv, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return err
	}
	tmp := v.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, v.Path())
}

func seal(kv map[string]string, key []byte) ([]byte, error) {
	plain, err := json.Marshal(kv)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := sealedVault{
		Version:    vaultVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, []byte(vaultAAD))),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func open(data, key []byte) (map[string]string, error) {
	var sv sealedVault
	if err := json.Unmarshal(data, &sv); err != nil {
		return nil, fmt.Errorf("parse vault: %w", err)
	}
	if sv.Version != vaultVersion {
		return nil, fmt.Errorf("unsupported vault version: %q", sv.Version)
	}
	nonce, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(sv.Nonce))
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(sv.Ciphertext))
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, []byte(vaultAAD))
	if err != nil {
		return nil, fmt.Errorf("decrypt vault: %w", err)
	}
	kv := map[string]string{}
	if err := json.Unmarshal(plain, &kv); err != nil {
		return nil, err
	}
	return kv, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// masterKey resolves the key: env override first, then the configured
// backend. Keys are only generated when create is set.
func (v *Vault) masterKey(create bool) ([]byte, error) {
	if envKey := strings.TrimSpace(os.Getenv(MasterKeyEnv)); envKey != "" {
		key, err := DecodeMasterKey(envKey)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", MasterKeyEnv, err)
		}
		return key, nil
	}
	switch KeyBackend() {
	case "keyring":
		return keyringKey(create)
	case "auto":
		if key, err := keyringKey(create); err == nil {
			return key, nil
		}
		return v.fileKey(create)
	default:
		return v.fileKey(create)
	}
}

// KeyBackend returns the selected master key backend. Unknown values fall
// back to file.
func KeyBackend() string {
	switch b := strings.ToLower(strings.TrimSpace(os.Getenv(KeyBackendEnv))); b {
	case "keyring", "file", "auto":
		return b
	default:
		return "file"
	}
}

// DecodeMasterKey base64-decodes a master key and checks it is 32 bytes.
func DecodeMasterKey(raw string) ([]byte, error) {
	key, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid master key length: %d", len(key))
	}
	return key, nil
}

func newMasterKey() ([]byte, string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, "", err
	}
	return key, base64.RawStdEncoding.EncodeToString(key), nil
}

func keyringKey(create bool) ([]byte, error) {
	val, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		return DecodeMasterKey(val)
	}
	if !create {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNoMasterKey
		}
		return nil, err
	}
	key, encoded, err := newMasterKey()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(keyringService, keyringUser, encoded); err != nil {
		return nil, err
	}
	return key, nil
}

func (v *Vault) fileKey(create bool) ([]byte, error) {
	keyPath := filepath.Join(v.dir, keyFileName)
	data, err := os.ReadFile(keyPath)
	if err == nil {
		return DecodeMasterKey(string(data))
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	if !create {
		return nil, ErrNoMasterKey
	}
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return nil, err
	}
	key, encoded, err := newMasterKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
