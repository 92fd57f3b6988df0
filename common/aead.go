package common

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"
)

// AEAD is one AES-256-GCM box on the pairwise channel. The 16-byte GCM tag
// is carried next to the ciphertext rather than appended to it.
type AEAD struct {
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}

const gcmTagSize = 16

// The nonce is fixed. The pairwise key is the DH x-coordinate of the two
// parties' secrets for the exchange (see PairwiseKey); both ends of a pair
// derive the same key, and each end encrypts its one share under it.
// The AAD is a fixed all-zero buffer.
var (
	aeadNonce = []byte{3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3}
	aeadAAD   = make([]byte, 16)
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESKeyBytesLen {
		return nil, errors.Errorf("AEAD key must be %d bytes, got %d", AESKeyBytesLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "aes cipher init")
	}
	return cipher.NewGCM(block)
}

func AESEncrypt(key, plaintext []byte) (*AEAD, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, aeadNonce, plaintext, aeadAAD)
	split := len(sealed) - gcmTagSize
	return &AEAD{Ciphertext: sealed[:split], Tag: sealed[split:]}, nil
}

func AESDecrypt(key []byte, box *AEAD) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, box.Ciphertext...), box.Tag...)
	out, err := gcm.Open(nil, aeadNonce, sealed, aeadAAD)
	return out, errors.Wrap(err, "AEAD open failed")
}
