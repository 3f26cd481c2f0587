// Package signer produces detached ECDSA P-256 signatures over fleet API requests.
package signer

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// coordinateSize is the byte length of r and s on P-256.
const coordinateSize = 32

// ErrSigningUnavailable is returned when no private key is configured.
var ErrSigningUnavailable = errors.New("signer: signing key unavailable")

// Payload is the canonical request descriptor that gets signed.
type Payload struct {
	Method    string
	Endpoint  string
	Timestamp string
	Body      json.RawMessage
}

// Canonical returns the deterministic serialization of p:
// {"method":..,"endpoint":..,"timestamp":..,"body":..} with a compacted body, {} when empty.
func (p Payload) Canonical() ([]byte, error) {
	body := []byte("{}")
	if len(bytes.TrimSpace(p.Body)) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, p.Body); err != nil {
			return nil, fmt.Errorf("signer: body is not valid json: %w", err)
		}
		body = buf.Bytes()
	}

	// struct field order fixes the key order
	canonical := struct {
		Method    string          `json:"method"`
		Endpoint  string          `json:"endpoint"`
		Timestamp string          `json:"timestamp"`
		Body      json.RawMessage `json:"body"`
	}{
		Method:    p.Method,
		Endpoint:  p.Endpoint,
		Timestamp: p.Timestamp,
		Body:      body,
	}
	return json.Marshal(canonical)
}

// ECDSASigner signs payloads with a key taken from its KeySource.
type ECDSASigner struct {
	keys KeySource
}

// New returns a signer. A nil source behaves like an unconfigured key.
func New(keys KeySource) *ECDSASigner {
	return &ECDSASigner{keys: keys}
}

// Available reports whether a key is configured.
func (s *ECDSASigner) Available() bool {
	if s == nil || s.keys == nil {
		return false
	}
	key, err := s.keys.PrivateKey()
	return err == nil && key != nil
}

// Sign returns base64(r||s) of the ECDSA-SHA256 signature over p.Canonical().
func (s *ECDSASigner) Sign(p Payload) (string, error) {
	if s == nil || s.keys == nil {
		return "", ErrSigningUnavailable
	}
	key, err := s.keys.PrivateKey()
	if err != nil {
		return "", err
	}
	if key == nil {
		return "", ErrSigningUnavailable
	}

	msg, err := p.Canonical()
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(msg)

	der, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", fmt.Errorf("signer: sign: %w", err)
	}
	raw, err := derToRaw(der)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Verify checks a signature produced by Sign.
func Verify(pub *ecdsa.PublicKey, p Payload, signature string) bool {
	if pub == nil {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(raw) != 2*coordinateSize {
		return false
	}
	msg, err := p.Canonical()
	if err != nil {
		return false
	}
	digest := sha256.Sum256(msg)
	r := new(big.Int).SetBytes(raw[:coordinateSize])
	sv := new(big.Int).SetBytes(raw[coordinateSize:])
	return ecdsa.Verify(pub, digest[:], r, sv)
}

// derToRaw converts an ASN.1 ECDSA-Sig-Value into fixed-width r||s.
func derToRaw(der []byte) ([]byte, error) {
	var (
		r, sv = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(sv) ||
		!inner.Empty() {
		return nil, errors.New("signer: malformed asn.1 signature")
	}

	out := make([]byte, 2*coordinateSize)
	if r.BitLen() > 8*coordinateSize || sv.BitLen() > 8*coordinateSize {
		return nil, errors.New("signer: signature exceeds curve size")
	}
	r.FillBytes(out[:coordinateSize])
	sv.FillBytes(out[coordinateSize:])
	return out, nil
}

func checkCurve(key *ecdsa.PrivateKey) error {
	if key.Curve != elliptic.P256() {
		return fmt.Errorf("signer: unsupported curve %s, want P-256", key.Curve.Params().Name)
	}
	return nil
}
