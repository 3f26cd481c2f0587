package signer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestCanonicalIsDeterministic(t *testing.T) {
	a := Payload{Method: "POST", Endpoint: "/api/1/vehicles/1/wake_up", Timestamp: "1700000000", Body: json.RawMessage(`{ "b": 1,  "a": 2 }`)}
	b := a
	b.Body = json.RawMessage(`{"b":1,"a":2}`)

	ca, err := a.Canonical()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	cb, err := b.Canonical()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("whitespace changed the canonical form:\n%s\n%s", ca, cb)
	}
	want := `{"method":"POST","endpoint":"/api/1/vehicles/1/wake_up","timestamp":"1700000000","body":{"b":1,"a":2}}`
	if string(ca) != want {
		t.Fatalf("unexpected canonical form %s", ca)
	}
}

func TestCanonicalEmptyBody(t *testing.T) {
	out, err := Payload{Method: "GET", Endpoint: "/x", Timestamp: "1"}.Canonical()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(out) != `{"method":"GET","endpoint":"/x","timestamp":"1","body":{}}` {
		t.Fatalf("unexpected canonical form %s", out)
	}
}

func TestSignVerifies(t *testing.T) {
	key := newKey(t)
	s := New(NewStaticKey(key))
	p := Payload{Method: "GET", Endpoint: "/api/1/vehicles/9/vehicle_data", Timestamp: "1700000000"}

	for i := 0; i < 5; i++ {
		sig, err := s.Sign(p)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		raw, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			t.Fatalf("signature is not base64: %v", err)
		}
		if len(raw) != 64 {
			t.Fatalf("expected 64 byte r||s, got %d", len(raw))
		}
		if !Verify(&key.PublicKey, p, sig) {
			t.Fatal("signature did not verify")
		}
	}

	tampered := p
	tampered.Endpoint = "/api/1/vehicles/10/vehicle_data"
	sig, _ := s.Sign(p)
	if Verify(&key.PublicKey, tampered, sig) {
		t.Fatal("signature verified against a different payload")
	}
}

func TestSignWithoutKey(t *testing.T) {
	for name, s := range map[string]*ECDSASigner{
		"nil source": New(nil),
		"nil key":    New(NewStaticKey(nil)),
	} {
		t.Run(name, func(t *testing.T) {
			if s.Available() {
				t.Fatal("signer should report unavailable")
			}
			if _, err := s.Sign(Payload{Method: "GET"}); !errors.Is(err, ErrSigningUnavailable) {
				t.Fatalf("expected ErrSigningUnavailable, got %v", err)
			}
		})
	}
}

func TestParseKeyFormats(t *testing.T) {
	key := newKey(t)

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	sec1, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal sec1: %v", err)
	}

	inputs := map[string]string{
		"pkcs8 pem": string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})),
		"sec1 pem":  string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1})),
		"base64":    base64.StdEncoding.EncodeToString(pkcs8),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			got, err := ParseKey(in)
			if err != nil {
				t.Fatalf("ParseKey: %v", err)
			}
			if !got.Equal(key) {
				t.Fatal("parsed key differs")
			}
		})
	}

	if _, err := ParseKey("not a key"); err == nil {
		t.Fatal("expected error for garbage input")
	}
	if _, err := ParseKey("  "); !errors.Is(err, ErrSigningUnavailable) {
		t.Fatalf("expected ErrSigningUnavailable for empty input, got %v", err)
	}
}

func TestParseKeyRejectsOtherCurves(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := ParseKey(base64.StdEncoding.EncodeToString(der)); err == nil {
		t.Fatal("expected P-384 key to be rejected")
	}
}

func TestFileKey(t *testing.T) {
	key := newKey(t)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "fleet.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	src, err := SourceFromConfig("", path)
	if err != nil {
		t.Fatalf("SourceFromConfig: %v", err)
	}
	s := New(src)
	sig, err := s.Sign(Payload{Method: "GET", Endpoint: "/x", Timestamp: "1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !Verify(&key.PublicKey, Payload{Method: "GET", Endpoint: "/x", Timestamp: "1"}, sig) {
		t.Fatal("signature from file key did not verify")
	}

	missing := New(NewFileKey(filepath.Join(t.TempDir(), "absent.pem")))
	if _, err := missing.Sign(Payload{}); err == nil {
		t.Fatal("expected error for missing key file")
	}
}
