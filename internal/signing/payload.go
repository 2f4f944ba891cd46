package signing

import (
	"encoding/hex"
	"time"
)

// SignedBlockPayload is the payload the signature block carries once the
// snapshot has been signed.
func SignedBlockPayload(params Params, signature []byte, signedAt time.Time) map[string]any {
	return map[string]any{
		"signature": params.SignatureImage,
		"name":      params.NameTyped,
		"hash":      hex.EncodeToString(signature),
		"date":      signedAt.Unix(),
	}
}
