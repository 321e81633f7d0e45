// Package filecrypt implements envelope encryption for attachment bodies.
// Every file gets its own random data-encryption key (DEK); bulk bytes are
// sealed with AES-256-GCM under the DEK, and the DEK itself is wrapped with
// XChaCha20-Poly1305 under a long-lived master key. The master key therefore
// only ever touches 32-byte payloads, and rotating it means rewrapping DEKs,
// not re-encrypting files.
package filecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	evalhub_errors "evalhub/pkg/errors"
)

const (
	// KeySize is the DEK length: AES-256.
	KeySize = 32

	chunkHeaderLen = 4
)

// GenerateFileKey returns a fresh random 256-bit data-encryption key.
func GenerateFileKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate file key: %w", err)
	}
	return key, nil
}

// Encryptor wraps and unwraps per-file keys under the master key.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from a 32-byte master key.
func NewEncryptor(masterKey []byte) (*Encryptor, error) {
	aead, err := chacha20poly1305.NewX(masterKey)
	if err != nil {
		return nil, fmt.Errorf("init master cipher: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// WrapKey seals a DEK under the master key. The result is
// base64([24-byte nonce][ciphertext||tag]), suitable for a text column.
func (e *Encryptor) WrapKey(fileKey []byte) (string, error) {
	if len(fileKey) != KeySize {
		return "", fmt.Errorf("%w: file key must be %d bytes", evalhub_errors.ErrValidation, KeySize)
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("wrap key nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, fileKey, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// UnwrapKey reverses WrapKey. Any tampering or truncation fails the
// authentication tag and surfaces as an integrity error.
func (e *Encryptor) UnwrapKey(wrapped string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped key is not valid base64", evalhub_errors.ErrIntegrity)
	}
	ns := e.aead.NonceSize()
	if len(raw) < ns+e.aead.Overhead() {
		return nil, fmt.Errorf("%w: wrapped key truncated", evalhub_errors.ErrIntegrity)
	}
	fileKey, err := e.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: key unwrap failed", evalhub_errors.ErrIntegrity)
	}
	if len(fileKey) != KeySize {
		return nil, fmt.Errorf("%w: unwrapped key has wrong length", evalhub_errors.ErrIntegrity)
	}
	return fileKey, nil
}

// EncryptFile seals a whole file under its DEK:
// [12-byte nonce][ciphertext||16-byte tag].
func EncryptFile(data, fileKey []byte) ([]byte, error) {
	gcm, err := newGCM(fileKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("encrypt file nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

// DecryptFile reverses EncryptFile.
func DecryptFile(blob, fileKey []byte) ([]byte, error) {
	gcm, err := newGCM(fileKey)
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(blob) < ns+gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext truncated", evalhub_errors.ErrIntegrity)
	}
	plaintext, err := gcm.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: file decrypt failed", evalhub_errors.ErrIntegrity)
	}
	return plaintext, nil
}

// EncryptChunk seals one upload chunk, embedding its position so reassembly
// can verify order: [4-byte little-endian index][12-byte nonce][ct||tag].
// Each chunk gets a fresh random nonce.
func EncryptChunk(data, fileKey []byte, index uint32) ([]byte, error) {
	gcm, err := newGCM(fileKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("encrypt chunk nonce: %w", err)
	}
	out := make([]byte, chunkHeaderLen, chunkHeaderLen+len(nonce)+len(data)+gcm.Overhead())
	binary.LittleEndian.PutUint32(out, index)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// DecryptChunk reverses EncryptChunk and returns the embedded index along
// with the plaintext. Callers must compare the index against the expected
// position; the index is a header, not authenticated data.
func DecryptChunk(blob, fileKey []byte) (uint32, []byte, error) {
	gcm, err := newGCM(fileKey)
	if err != nil {
		return 0, nil, err
	}
	ns := gcm.NonceSize()
	if len(blob) < chunkHeaderLen+ns+gcm.Overhead() {
		return 0, nil, fmt.Errorf("%w: chunk truncated", evalhub_errors.ErrIntegrity)
	}
	index := binary.LittleEndian.Uint32(blob[:chunkHeaderLen])
	nonce := blob[chunkHeaderLen : chunkHeaderLen+ns]
	plaintext, err := gcm.Open(nil, nonce, blob[chunkHeaderLen+ns:], nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: chunk decrypt failed", evalhub_errors.ErrIntegrity)
	}
	return index, plaintext, nil
}

func newGCM(fileKey []byte) (cipher.AEAD, error) {
	if len(fileKey) != KeySize {
		return nil, fmt.Errorf("%w: file key must be %d bytes", evalhub_errors.ErrValidation, KeySize)
	}
	block, err := aes.NewCipher(fileKey)
	if err != nil {
		return nil, fmt.Errorf("init file cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
