package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// VerifyPassword verifies a password against a hash
func VerifyPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateRandomBytes generates random bytes
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// GenerateRandomString generates a random URL-safe string
func GenerateRandomString(n int) (string, error) {
	bytes, err := GenerateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// XORTransform applies a repeating-key XOR over data. Applying it twice
// with the same key recovers the input. This is the reference payload
// cipher: it keeps the round-trip contract but provides no
// confidentiality; swap in EncryptGCM/DecryptGCM behind the same callers
// when an authenticated scheme is required.
func XORTransform(key, data []byte) []byte {
	if len(key) == 0 || len(data) == 0 {
		return data
	}
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}
	return out
}

// EncodeField XOR-encodes a single string field and wraps it in base64
// so it stays printable inside a JSON wire message.
func EncodeField(key, field string) string {
	if field == "" {
		return ""
	}
	enc := XORTransform([]byte(key), []byte(field))
	return base64.StdEncoding.EncodeToString(enc)
}

// DecodeField is the inverse of EncodeField
func DecodeField(key, field string) (string, error) {
	if field == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(field)
	if err != nil {
		return "", fmt.Errorf("decode field: %w", err)
	}
	return string(XORTransform([]byte(key), raw)), nil
}

// EncryptGCM encrypts data using AES-GCM
func EncryptGCM(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptGCM decrypts data using AES-GCM
func DecryptGCM(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
