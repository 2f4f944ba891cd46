package util

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"github.com/google/uuid"
)

const shareTokenAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ShareTokenLength is the length of the public token used in share links.
const ShareTokenLength = 9

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewBlockUID returns a random 128-bit identifier for a content block.
func NewBlockUID() string {
	return uuid.NewString()
}

func NewShareToken() string {
	max := big.NewInt(int64(len(shareTokenAlphabet)))
	out := make([]byte, ShareTokenLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("util: crypto/rand unavailable: " + err.Error())
		}
		out[i] = shareTokenAlphabet[n.Int64()]
	}
	return string(out)
}
