package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// KeyHexLen is the required length of the configured key: 32 bytes hex-encoded.
const KeyHexLen = 64

// ErrInvalidFormat is returned when a stored secret does not match the
// hex(iv):hex(ciphertext) shape. Decrypt fails closed on it.
var ErrInvalidFormat = schema.NewError(schema.ErrCodeVault, "invalid encrypted secret format, expected hex(iv):hex(ciphertext)")

// CredentialVault encrypts account secrets at rest with AES-256-CBC.
// The persisted form is "hex(iv):hex(ciphertext)" with a fresh random
// 16-byte IV per encryption, so the same plaintext never produces the same
// ciphertext twice.
type CredentialVault struct {
	block cipher.Block
}

// New creates a vault from a 64-hex-character key. A missing or wrongly
// sized key is a startup-time fatal configuration error.
func New(keyHex string) (*CredentialVault, error) {
	if keyHex == "" {
		return nil, schema.NewError(schema.ErrCodeVault, "encryption key is not configured")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeVault, "encryption key is not valid hex").WithCause(err)
	}
	if len(key) != 32 {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeVault, "aes cipher").WithCause(err)
	}
	return &CredentialVault{block: block}, nil
}

// Encrypt returns the plaintext encrypted as hex(iv):hex(ciphertext).
func (v *CredentialVault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", schema.NewError(schema.ErrCodeVault, "generate iv").WithCause(err)
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(v.block, iv).CryptBlocks(ct, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. It fails with ErrInvalidFormat when the ":"
// separator or either hex segment is missing or malformed.
func (v *CredentialVault) Decrypt(encrypted string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(encrypted, ":")
	if !ok || ivHex == "" || ctHex == "" {
		return "", ErrInvalidFormat
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrInvalidFormat
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", ErrInvalidFormat
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(v.block, iv).CryptBlocks(pt, ct)
	unpadded, err := pkcs7Unpad(pt, aes.BlockSize)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeVault, "decrypt failed: invalid padding").WithCause(err)
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidFormat
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, ErrInvalidFormat
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, ErrInvalidFormat
		}
	}
	return data[:len(data)-pad], nil
}
