package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newCipher(t *testing.T, fill byte) *PayloadCipher {
	t.Helper()
	c, err := NewPayloadCipher(bytes.Repeat([]byte{fill}, KeySize))
	if err != nil {
		t.Fatalf("NewPayloadCipher: %v", err)
	}
	return c
}

func TestNewPayloadCipher_KeySize(t *testing.T) {
	for _, n := range []int{0, 16, 24, 31, 33} {
		if _, err := NewPayloadCipher(make([]byte, n)); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("key of %d bytes: err = %v", n, err)
		}
	}
}

func TestSealOpen(t *testing.T) {
	c := newCipher(t, 'k')

	sealed, err := c.Seal([]byte("transfer token 7f3a"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(sealed, "v1.") || strings.Contains(sealed, "7f3a") {
		t.Errorf("sealed = %q", sealed)
	}
	again, _ := c.Seal([]byte("transfer token 7f3a"))
	if again == sealed {
		t.Error("nonce reused across seals")
	}

	got, err := c.Open(sealed)
	if err != nil || string(got) != "transfer token 7f3a" {
		t.Errorf("Open = %q, %v", got, err)
	}
}

func TestSealOpen_Empty(t *testing.T) {
	c := newCipher(t, 'k')
	if s, err := c.Seal(nil); s != "" || err != nil {
		t.Errorf("Seal(nil) = %q, %v", s, err)
	}
	if b, err := c.Open(""); b != nil || err != nil {
		t.Errorf("Open(\"\") = %v, %v", b, err)
	}
}

func TestOpen_Rejects(t *testing.T) {
	c := newCipher(t, 'k')
	sealed, _ := c.Seal([]byte("payload"))

	tampered := []byte(sealed)
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}

	tests := []struct {
		name   string
		cipher *PayloadCipher
		input  string
		want   error
	}{
		{"missing version", c, strings.TrimPrefix(sealed, "v1."), ErrMalformed},
		{"not base64", c, "v1.%%%", ErrMalformed},
		{"shorter than nonce", c, "v1.AAAA", ErrMalformed},
		{"tampered", c, string(tampered), ErrAuthentication},
		{"wrong key", newCipher(t, 'x'), sealed, ErrAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.cipher.Open(tt.input); !errors.Is(err, tt.want) {
				t.Errorf("Open err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDerivePayloadCipher(t *testing.T) {
	salt := bytes.Repeat([]byte("s"), 16)
	if _, err := DerivePayloadCipher("correct horse", salt[:15], 0); !errors.Is(err, ErrSaltTooShort) {
		t.Errorf("short salt err = %v", err)
	}

	a, err := DerivePayloadCipher("correct horse", salt, 1000)
	if err != nil {
		t.Fatal(err)
	}
	b, err := DerivePayloadCipher("correct horse", salt, 1000)
	if err != nil {
		t.Fatal(err)
	}
	sealed, _ := a.Seal([]byte("x"))
	if got, err := b.Open(sealed); err != nil || string(got) != "x" {
		t.Errorf("same passphrase and salt must derive the same key: %q, %v", got, err)
	}

	other, _ := DerivePayloadCipher("correct horse", bytes.Repeat([]byte("t"), 16), 1000)
	if _, err := other.Open(sealed); !errors.Is(err, ErrAuthentication) {
		t.Errorf("different salt err = %v", err)
	}
}

func TestSealJSON(t *testing.T) {
	c := newCipher(t, 'k')
	type invite struct {
		Token string `json:"token"`
		Email string `json:"email"`
	}

	sealed, err := c.SealJSON(invite{Token: "tok", Email: "new@acme.edu"})
	if err != nil {
		t.Fatal(err)
	}
	var out invite
	if err := c.OpenJSON(sealed, &out); err != nil {
		t.Fatal(err)
	}
	if out.Token != "tok" || out.Email != "new@acme.edu" {
		t.Errorf("out = %+v", out)
	}

	if _, err := c.SealJSON(make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
	notJSON, _ := c.Seal([]byte("plain"))
	if err := c.OpenJSON(notJSON, &out); err == nil {
		t.Error("expected unmarshal error")
	}
}
