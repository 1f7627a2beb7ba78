package gepg

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// Signer signs outbound payloads and verifies inbound signatures. The
// gateway protocol requires RSA PKCS#1 v1.5 over SHA-256 with the
// signature carried base64-encoded in the trailing signature element.
type Signer interface {
	Sign(payload []byte) (string, error)
	Verify(payload []byte, signature string) error
}

type rsaSigner struct {
	key *rsa.PrivateKey
}

// NewRSASigner loads a PEM-encoded RSA private key from disk.
func NewRSASigner(keyPath string) (Signer, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("signing key: no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &rsaSigner{key: key}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("signing key: not an RSA private key")
	}
	return &rsaSigner{key: key}, nil
}

func (s *rsaSigner) Sign(payload []byte) (string, error) {
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (s *rsaSigner) Verify(payload []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(&s.key.PublicKey, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}

// NoopSigner emits an empty signature and accepts any inbound one. Used
// in development and tests where no key material is configured.
type NoopSigner struct{}

func (NoopSigner) Sign(payload []byte) (string, error) { return "", nil }

func (NoopSigner) Verify(payload []byte, signature string) error { return nil }
