// Package signing builds the canonical signable record of a frozen snapshot
// and produces and checks detached signatures over it.
package signing

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// SchemaVersion identifies the field set and encoding of Document. Bump it
// for any change to either; old versions must stay decodable.
const SchemaVersion = 1

var (
	ErrUnsupportedSchema = errors.New("signing: unsupported schema version")
	ErrNonCanonical      = errors.New("signing: document is not in canonical form")
)

type SnapshotMeta struct {
	Title     string `cbor:"title"`
	Version   int    `cbor:"version"`
	CreatedAt int64  `cbor:"createdAt"`
}

type BlockEntry struct {
	Type    string         `cbor:"type"`
	Payload map[string]any `cbor:"payload"`
}

// Params are the values captured from the signer at signing time.
type Params struct {
	IP             string `cbor:"ip"`
	SignatureImage string `cbor:"signatureImage"`
	UserAgent      string `cbor:"userAgent"`
	NameTyped      string `cbor:"nameTyped"`
}

type Document struct {
	SchemaVersion int          `cbor:"schemaVersion"`
	Snapshot      SnapshotMeta `cbor:"snapshot"`
	Blocks        []BlockEntry `cbor:"blocks"`
	Signer        Params       `cbor:"signer"`
}

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// document always yields the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("signing: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("signing: CBOR decoder initialization failed: " + err.Error())
	}
}

// BuildDocument assembles the signable record. Blocks must already be in
// display order.
func BuildDocument(meta SnapshotMeta, blocks []BlockEntry, params Params) Document {
	entries := make([]BlockEntry, len(blocks))
	for i, block := range blocks {
		payload := block.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		entries[i] = BlockEntry{Type: block.Type, Payload: payload}
	}
	return Document{
		SchemaVersion: SchemaVersion,
		Snapshot:      meta,
		Blocks:        entries,
		Signer:        params,
	}
}

// Encode returns the canonical bytes of doc.
func Encode(doc Document) ([]byte, error) {
	out, err := encMode.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode signable document: %w", err)
	}
	return out, nil
}

// Decode parses canonical bytes and checks they re-encode to themselves.
func Decode(canonical []byte) (Document, error) {
	var doc Document
	if err := decMode.Unmarshal(canonical, &doc); err != nil {
		return Document{}, fmt.Errorf("decode signable document: %w", err)
	}
	if doc.SchemaVersion != SchemaVersion {
		return Document{}, fmt.Errorf("%w: %d", ErrUnsupportedSchema, doc.SchemaVersion)
	}
	again, err := Encode(doc)
	if err != nil {
		return Document{}, err
	}
	if !bytes.Equal(again, canonical) {
		return Document{}, ErrNonCanonical
	}
	return doc, nil
}
