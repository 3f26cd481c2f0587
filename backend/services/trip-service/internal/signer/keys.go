package signer

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// KeySource hands out the signing key. Implementations must never expose it elsewhere.
type KeySource interface {
	PrivateKey() (*ecdsa.PrivateKey, error)
}

// StaticKey is a KeySource holding an already parsed key.
type StaticKey struct {
	key *ecdsa.PrivateKey
}

// NewStaticKey wraps key. A nil key yields ErrSigningUnavailable on use.
func NewStaticKey(key *ecdsa.PrivateKey) *StaticKey {
	return &StaticKey{key: key}
}

// PrivateKey implements KeySource.
func (s *StaticKey) PrivateKey() (*ecdsa.PrivateKey, error) {
	if s == nil || s.key == nil {
		return nil, ErrSigningUnavailable
	}
	return s.key, nil
}

// FileKey lazily loads a PEM key from disk on first use.
type FileKey struct {
	path string

	once sync.Once
	key  *ecdsa.PrivateKey
	err  error
}

// NewFileKey returns a source reading path.
func NewFileKey(path string) *FileKey {
	return &FileKey{path: path}
}

// PrivateKey implements KeySource.
func (f *FileKey) PrivateKey() (*ecdsa.PrivateKey, error) {
	f.once.Do(func() {
		if strings.TrimSpace(f.path) == "" {
			f.err = ErrSigningUnavailable
			return
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			f.err = fmt.Errorf("signer: read key file: %w", err)
			return
		}
		f.key, f.err = ParseKey(string(data))
	})
	return f.key, f.err
}

// ParseKey accepts a PEM block (PKCS#8 or SEC1) or bare base64 PKCS#8 DER.
func ParseKey(material string) (*ecdsa.PrivateKey, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, ErrSigningUnavailable
	}

	var der []byte
	if block, _ := pem.Decode([]byte(material)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(stripWhitespace(material))
		if err != nil {
			return nil, errors.New("signer: key is neither PEM nor base64")
		}
		der = decoded
	}

	if parsed, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		key, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("signer: key is not an ECDSA key")
		}
		return key, checkCurve(key)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("signer: parse key: %w", err)
	}
	return key, checkCurve(key)
}

// SourceFromConfig picks inline key material over a file path; both empty is a valid, unsigned setup.
func SourceFromConfig(inline, path string) (KeySource, error) {
	if strings.TrimSpace(inline) != "" {
		key, err := ParseKey(inline)
		if err != nil {
			return nil, err
		}
		return NewStaticKey(key), nil
	}
	if strings.TrimSpace(path) != "" {
		return NewFileKey(path), nil
	}
	return NewStaticKey(nil), nil
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}
