package signing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() Document {
	return BuildDocument(
		SnapshotMeta{Title: "Website redesign", Version: 3, CreatedAt: 1_700_000_000},
		[]BlockEntry{
			{Type: "section", Payload: map[string]any{"value": "Scope"}},
			{Type: "cost_table", Payload: map[string]any{"rows": []any{map[string]any{"price": 12.5, "label": "Design"}}, "currency": "EUR"}},
			{Type: "signature"},
		},
		Params{IP: "203.0.113.9", SignatureImage: "data:image/png;base64,AAAA", UserAgent: "Mozilla/5.0", NameTyped: "Ada Client"},
	)
}

func TestEncodeIsDeterministic(t *testing.T) {
	first, err := Encode(sampleDocument())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := Encode(sampleDocument())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDecodeRoundTripPreservesBytes(t *testing.T) {
	canonical, err := Encode(sampleDocument())
	require.NoError(t, err)

	doc, err := Decode(canonical)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, doc.SchemaVersion)
	assert.Equal(t, "Ada Client", doc.Signer.NameTyped)
	require.Len(t, doc.Blocks, 3)
	assert.Equal(t, map[string]any{}, doc.Blocks[2].Payload)

	again, err := Encode(doc)
	require.NoError(t, err)
	assert.Equal(t, canonical, again)
}

func TestDecodeRejectsOtherSchemaVersion(t *testing.T) {
	doc := sampleDocument()
	doc.SchemaVersion = 99
	canonical, err := Encode(doc)
	require.NoError(t, err)

	_, err = Decode(canonical)
	assert.ErrorIs(t, err, ErrUnsupportedSchema)
}

func TestSignAndVerify(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	canonical, err := Encode(sampleDocument())
	require.NoError(t, err)
	signature, err := keys.Sign(canonical)
	require.NoError(t, err)

	doc, err := Verify(canonical, signature, keys.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Snapshot.Version)

	tampered := sampleDocument()
	tampered.Signer.NameTyped = "Mallory"
	tamperedBytes, err := Encode(tampered)
	require.NoError(t, err)
	_, err = Verify(tamperedBytes, signature, keys.PublicKey())
	assert.ErrorIs(t, err, ErrBadSignature)

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	_, err = Verify(canonical, signature, other.PublicKey())
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestKeyPairOpenSSHRoundTrip(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)
	pemBytes, err := keys.MarshalOpenSSH("proppy signing key")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "signing_ed25519")
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))

	loaded, err := LoadKeyPair(path)
	require.NoError(t, err)
	assert.Equal(t, keys.PublicKey(), loaded.PublicKey())

	_, err = ParseKeyPair([]byte("not a key"))
	assert.Error(t, err)
}

func TestDigestIsStableAndKeyed(t *testing.T) {
	canonical, err := Encode(sampleDocument())
	require.NoError(t, err)

	digest := Digest(canonical)
	assert.Len(t, digest, 64)
	assert.Equal(t, digest, Digest(canonical))
	assert.NotEqual(t, digest, Digest(append([]byte{0}, canonical...)))
}

func TestSignedBlockPayload(t *testing.T) {
	payload := SignedBlockPayload(
		Params{SignatureImage: "img", NameTyped: "Ada"},
		[]byte{0xde, 0xad},
		time.Unix(1_700_000_123, 0),
	)
	assert.Equal(t, map[string]any{
		"signature": "img",
		"name":      "Ada",
		"hash":      "dead",
		"date":      int64(1_700_000_123),
	}, payload)
}
