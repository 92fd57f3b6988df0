package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEADRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, AESKeyBytesLen)
	plaintext := []byte("share payload for party three")

	box, err := AESEncrypt(key, plaintext)
	require.NoError(t, err)
	assert.Len(t, box.Tag, gcmTagSize)
	assert.Len(t, box.Ciphertext, len(plaintext))

	out, err := AESDecrypt(key, box)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestAEADWrongKeyFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, AESKeyBytesLen)
	box, err := AESEncrypt(key, []byte("secret"))
	require.NoError(t, err)

	other := bytes.Repeat([]byte{0x43}, AESKeyBytesLen)
	_, err = AESDecrypt(other, box)
	assert.Error(t, err)
}

func TestAEADTamperedTagFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, AESKeyBytesLen)
	box, err := AESEncrypt(key, []byte("secret"))
	require.NoError(t, err)

	box.Tag[0] ^= 0xff
	_, err = AESDecrypt(key, box)
	assert.Error(t, err)
}

func TestAEADRejectsShortKey(t *testing.T) {
	_, err := AESEncrypt([]byte("short"), []byte("secret"))
	assert.Error(t, err)
}
