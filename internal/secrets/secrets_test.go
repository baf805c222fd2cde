package secrets

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func TestBox_RoundTrip(t *testing.T) {
	box, err := NewBox(testKey())
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	for _, plain := range []string{"", "token", "y0_AgAAAABcdef", strings.Repeat("x", 4096)} {
		sealed, err := box.Seal(plain)
		if err != nil {
			t.Fatalf("Seal(%q): %v", plain, err)
		}
		if plain != "" && strings.Contains(sealed, plain) {
			t.Errorf("sealed blob contains the plaintext")
		}
		got, err := box.Open(sealed)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got != plain {
			t.Errorf("round trip: got %q, want %q", got, plain)
		}
	}
}

func TestBox_NoncesDiffer(t *testing.T) {
	box, _ := NewBox(testKey())

	a, _ := box.Seal("same input")
	b, _ := box.Seal("same input")
	if a == b {
		t.Error("two seals of the same input produced identical blobs")
	}
}

func TestBox_TamperDetected(t *testing.T) {
	box, _ := NewBox(testKey())

	sealed, _ := box.Seal("secret")
	raw, _ := base64.RawStdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.RawStdEncoding.EncodeToString(raw)

	if _, err := box.Open(tampered); !errors.Is(err, ErrSealedValue) {
		t.Errorf("Open(tampered): err = %v, want ErrSealedValue", err)
	}
}

func TestBox_WrongKey(t *testing.T) {
	box1, _ := NewBox(testKey())
	box2, _ := NewBox(base64.StdEncoding.EncodeToString([]byte("ffffffffffffffffffffffffffffffff")))

	sealed, _ := box1.Seal("secret")
	if _, err := box2.Open(sealed); !errors.Is(err, ErrSealedValue) {
		t.Errorf("Open under wrong key: err = %v, want ErrSealedValue", err)
	}
}

func TestNewBox_RejectsBadKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "not base64", key: "%%%"},
		{name: "too short", key: base64.StdEncoding.EncodeToString([]byte("short"))},
		{name: "too long", key: base64.StdEncoding.EncodeToString(make([]byte, 64))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBox(tt.key); err == nil {
				t.Errorf("NewBox(%q) accepted a bad key", tt.key)
			}
		})
	}
}

func TestBox_OpenGarbage(t *testing.T) {
	box, _ := NewBox(testKey())

	for _, blob := range []string{"", "!!!", "AA", base64.RawStdEncoding.EncodeToString([]byte("tiny"))} {
		if _, err := box.Open(blob); !errors.Is(err, ErrSealedValue) {
			t.Errorf("Open(%q): err = %v, want ErrSealedValue", blob, err)
		}
	}
}
