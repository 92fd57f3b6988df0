package common

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/bnb-chain/tss-lib/crypto"
)

// RoomID derives the signing-room identifier for one request, so the t+1
// signers of the same (key, message, path) converge on a single room
// without out-of-band coordination.
func RoomID(y *crypto.ECPoint, message []byte, path string) string {
	h := sha256.New()
	h.Write(y.X().Bytes())
	h.Write(y.Y().Bytes())
	h.Write(message)
	h.Write([]byte(path))
	return hex.EncodeToString(h.Sum(nil))
}
