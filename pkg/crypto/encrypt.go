package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Ошибки шифрования
var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrWeakMasterKey      = errors.New("master key must be at least 32 characters")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
)

// keyInfo - контекст HKDF для ключа шифрования секретов бирж.
// Смена значения делает невозможной расшифровку уже сохранённых секретов.
const keyInfo = "cryptofolio/exchange-credential-secret/v1"

// DeriveKey выводит 32-байтный AES ключ из мастер-ключа через HKDF-SHA256
func DeriveKey(masterKey string, info string) ([]byte, error) {
	if len(masterKey) < 32 {
		return nil, ErrWeakMasterKey
	}

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt шифрует plaintext с использованием AES-256-GCM.
// Возвращает base64(nonce || ciphertext || tag).
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt расшифровывает base64-encoded ciphertext (AES-256-GCM)
func Decrypt(ciphertextBase64 string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize+gcm.Overhead() {
		return "", ErrCiphertextTooShort
	}

	nonce, data := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ============================================================
// SecretBox - шифрование секретов API ключей
// ============================================================

// SecretBox шифрует и расшифровывает секреты бирж ключом, выведенным из ENCRYPTION_KEY.
// Секрет в открытом виде существует только в момент подписи запроса.
type SecretBox struct {
	key []byte
}

// NewSecretBox создаёт SecretBox из мастер-ключа конфигурации
func NewSecretBox(masterKey string) (*SecretBox, error) {
	key, err := DeriveKey(masterKey, keyInfo)
	if err != nil {
		return nil, err
	}
	return &SecretBox{key: key}, nil
}

// Seal шифрует секрет для хранения в БД
func (b *SecretBox) Seal(secret string) (string, error) {
	return Encrypt(secret, b.key)
}

// Open расшифровывает секрет из БД
func (b *SecretBox) Open(sealed string) (string, error) {
	return Decrypt(sealed, b.key)
}
