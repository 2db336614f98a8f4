package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

// SecurityManager encrypts credentials for storage.
type SecurityManager interface {
	// EncryptCredential encrypts sensitive authentication data for storage
	EncryptCredential(plaintext string) (string, error)

	// DecryptCredential decrypts stored authentication data for use
	DecryptCredential(ciphertext string) (string, error)

	// SecureKeyExists checks if encryption key material is available
	SecureKeyExists() bool
}

const keyIterations = 100000

// AESSecurityManager implements SecurityManager using AES-256-GCM with a key
// derived by PBKDF2 from a stored salt and a machine-specific passphrase.
type AESSecurityManager struct {
	keyPath    string
	masterKey  []byte
	keyDerived bool
}

// DefaultKeyPath returns where the salt is kept.
func DefaultKeyPath() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "rpc2ctl", "security", "master.key"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "rpc2ctl", "security", "master.key"), nil
}

// NewSecurityManager loads the salt at keyPath, generating it on first use.
func NewSecurityManager(keyPath string) (*AESSecurityManager, error) {
	s := &AESSecurityManager{keyPath: keyPath}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create security directory: %w", err)
	}
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		if err := s.GenerateSecureKey(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := s.loadExistingKey(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AESSecurityManager) loadExistingKey() error {
	keyData, err := os.ReadFile(s.keyPath)
	if err != nil {
		return fmt.Errorf("failed to read master key file: %w", err)
	}
	salt, err := hex.DecodeString(string(keyData))
	if err != nil {
		return fmt.Errorf("failed to decode key material: %w", err)
	}
	s.derive(salt)
	return nil
}

func (s *AESSecurityManager) derive(salt []byte) {
	s.masterKey = pbkdf2.Key([]byte(machinePassphrase()), salt, keyIterations, 32, sha256.New)
	s.keyDerived = true
}

func machinePassphrase() string {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	return fmt.Sprintf("rpc2ctl-security-%s-%s", hostname, username)
}

// GenerateSecureKey creates and stores a fresh salt. Credentials encrypted
// under the previous salt can no longer be decrypted.
func (s *AESSecurityManager) GenerateSecureKey() error {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate random salt: %w", err)
	}
	if err := os.WriteFile(s.keyPath, []byte(hex.EncodeToString(salt)), 0600); err != nil {
		return fmt.Errorf("failed to write key material: %w", err)
	}
	s.derive(salt)
	return nil
}

// SecureKeyExists checks if encryption key material is available
func (s *AESSecurityManager) SecureKeyExists() bool {
	_, err := os.Stat(s.keyPath)
	return err == nil
}

func (s *AESSecurityManager) gcm() (cipher.AEAD, error) {
	if !s.keyDerived {
		return nil, fmt.Errorf("encryption key not available")
	}
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptCredential encrypts sensitive authentication data using AES-256-GCM
func (s *AESSecurityManager) EncryptCredential(plaintext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptCredential decrypts stored authentication data
func (s *AESSecurityManager) DecryptCredential(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
