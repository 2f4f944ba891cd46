package signing

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// digestKey separates signed-document digests from any other BLAKE3 use.
// Changing it invalidates every stored digest.
var digestKey = [32]byte{
	'p', 'r', 'o', 'p', 'p', 'y', '.', 's', 'i', 'g', 'n', 'i', 'n', 'g', '.',
	'd', 'o', 'c', 'u', 'm', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Digest returns the hex keyed BLAKE3 hash of canonical document bytes.
func Digest(canonical []byte) string {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("signing: blake3 keyed hasher: " + err.Error())
	}
	_, _ = hasher.Write(canonical)
	return hex.EncodeToString(hasher.Sum(nil))
}
