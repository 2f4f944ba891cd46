package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

var (
	ErrBadSignature = errors.New("signing: signature does not match document")
	ErrUnsupported  = errors.New("signing: key is not ed25519")
)

// Signer produces a detached signature over canonical bytes.
type Signer interface {
	Sign(canonical []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// KeyPair is an in-memory ed25519 signing key.
type KeyPair struct {
	private ed25519.PrivateKey
}

func GenerateKeyPair() (*KeyPair, error) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyPair{private: private}, nil
}

// LoadKeyPair reads an OpenSSH-format ed25519 private key.
func LoadKeyPair(path string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	return ParseKeyPair(raw)
}

func ParseKeyPair(pemBytes []byte) (*KeyPair, error) {
	key, err := ssh.ParseRawPrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	switch k := key.(type) {
	case *ed25519.PrivateKey:
		return &KeyPair{private: *k}, nil
	case ed25519.PrivateKey:
		return &KeyPair{private: k}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, key)
	}
}

// MarshalOpenSSH encodes the private key in OpenSSH PEM form.
func (k *KeyPair) MarshalOpenSSH(comment string) ([]byte, error) {
	block, err := ssh.MarshalPrivateKey(k.private, comment)
	if err != nil {
		return nil, fmt.Errorf("marshal signing key: %w", err)
	}
	return pem.EncodeToMemory(block), nil
}

func (k *KeyPair) Sign(canonical []byte) ([]byte, error) {
	return ed25519.Sign(k.private, canonical), nil
}

func (k *KeyPair) PublicKey() ed25519.PublicKey {
	return k.private.Public().(ed25519.PublicKey)
}

// Verify checks that canonical is a well-formed current-schema document in
// canonical form and that signature was made over it by publicKey.
func Verify(canonical, signature []byte, publicKey ed25519.PublicKey) (Document, error) {
	doc, err := Decode(canonical)
	if err != nil {
		return Document{}, err
	}
	if !ed25519.Verify(publicKey, canonical, signature) {
		return Document{}, ErrBadSignature
	}
	return doc, nil
}
