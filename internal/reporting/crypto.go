// Package reporting implements the encrypted channel between a runner and
// the website API. Both ends share one symmetric key; every payload is an
// AES-256-CBC message with the IV prepended and PKCS#7 padding.
package reporting

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

const keySize = 32

var (
	ErrCiphertextTooShort = errors.New("ciphertext shorter than one block")
	ErrBadPadding         = errors.New("ciphertext padding is invalid")
)

// normalizeKey truncates long keys to 32 bytes and zero-pads short ones,
// so deployments may configure a passphrase of any length.
func normalizeKey(key []byte) []byte {
	out := make([]byte, keySize)
	copy(out, key)
	return out
}

// Encrypt seals plain with key and returns IV || ciphertext.
func Encrypt(plain, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, err
	}

	padded := pad(plain, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// Decrypt opens an IV-prefixed message produced by Encrypt.
func Decrypt(enc, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, err
	}
	if len(enc) < 2*aes.BlockSize || len(enc)%aes.BlockSize != 0 {
		return nil, ErrCiphertextTooShort
	}

	iv, body := enc[:aes.BlockSize], enc[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	return unpad(plain, aes.BlockSize)
}

func pad(s []byte, size int) []byte {
	n := size - len(s)%size
	out := make([]byte, len(s)+n)
	copy(out, s)
	for i := len(s); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(s []byte, size int) ([]byte, error) {
	if len(s) == 0 || len(s)%size != 0 {
		return nil, ErrBadPadding
	}
	n := int(s[len(s)-1])
	if n < 1 || n > size {
		return nil, ErrBadPadding
	}
	for _, b := range s[len(s)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return s[:len(s)-n], nil
}
