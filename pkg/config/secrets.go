package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

const (
	secretsFileName = "secrets.json.enc"
	saltSize        = 16
	nonceSize       = 12
	scryptN         = 32768
	scryptR         = 8
	scryptP         = 1
	keySize         = 32
)

//nolint:gochecknoglobals // in-memory secrets for the process lifetime
var (
	decryptedSecrets    map[string]string
	decryptedSecretsMux sync.RWMutex
)

// SetDecryptedSecrets replaces the in-memory secrets.
func SetDecryptedSecrets(secrets map[string]string) {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	decryptedSecrets = secrets
}

// GetSecret returns a secret from the decrypted file first, then the environment.
func GetSecret(name string) (string, error) {
	decryptedSecretsMux.RLock()
	if value, ok := decryptedSecrets[name]; ok && value != "" {
		decryptedSecretsMux.RUnlock()
		return value, nil
	}
	decryptedSecretsMux.RUnlock()

	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// GetAPIKey returns the credential for an LLM provider.
func GetAPIKey(provider string) (string, error) {
	name := APIKeyEnv(provider)
	if name == "" {
		return "", fmt.Errorf("unknown provider %q", provider)
	}
	return GetSecret(name)
}

// SecretsPath returns the location of the encrypted secrets file under dir.
func SecretsPath(dir string) string {
	return filepath.Join(dir, secretsFileName)
}

// SecretsFileExists reports whether dir holds an encrypted secrets file.
func SecretsFileExists(dir string) bool {
	_, err := os.Stat(SecretsPath(dir))
	return err == nil
}

func deriveGCM(password, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptSecretsFile writes secrets to dir/secrets.json.enc as [salt][nonce][ciphertext+tag], mode 0600.
func EncryptSecretsFile(dir, password string, secrets map[string]string) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := deriveGCM([]byte(password), salt)
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(SecretsPath(dir), fileData, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile reads and decrypts dir/secrets.json.enc.
func DecryptSecretsFile(dir, password string) (map[string]string, error) {
	fileData, err := os.ReadFile(SecretsPath(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(fileData) < saltSize+nonceSize+16 {
		return nil, fmt.Errorf("secrets file is corrupted or invalid format (too small)")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	gcm, err := deriveGCM([]byte(password), salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password or corrupted file)")
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}

// SetSecretInFile decrypts (or starts) the secrets file, sets name=value and re-encrypts it.
func SetSecretInFile(dir, password, name, value string) error {
	secrets := map[string]string{}
	if SecretsFileExists(dir) {
		existing, err := DecryptSecretsFile(dir, password)
		if err != nil {
			return err
		}
		secrets = existing
	}
	secrets[name] = value
	return EncryptSecretsFile(dir, password, secrets)
}
