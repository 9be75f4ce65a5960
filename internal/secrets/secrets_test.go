package secrets

import (
	"bytes"
	"encoding/base64"
	"testing"
)

// rawKey is 32 characters and deliberately not valid base64, exercising the
// legacy plaintext-key path.
const rawKey = "my-secret-key-32-bytes-long!!!!!"

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		iv      string
		wantErr bool
	}{
		{"empty key", "", "", true},
		{"short key", "tooshort", "", true},
		{"raw 32-byte key", rawKey, "", false},
		{"base64 key", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32)), "", false},
		{"base64 iv", rawKey, base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x01}, 16)), false},
		{"wrong iv length", rawKey, base64.StdEncoding.EncodeToString([]byte{0x01}), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.key, tc.iv)
			if (err != nil) != tc.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(rawKey, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, plain := range []string{"p", "hunter2", "a much longer credential that spans several AES blocks without trouble"} {
		enc, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plain, err)
		}
		if len(enc)%16 != 0 {
			t.Fatalf("ciphertext length %d not block aligned", len(enc))
		}
		got, err := c.Decrypt(enc)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plain {
			t.Fatalf("round trip = %q, want %q", got, plain)
		}
	}
}

func TestEncryptRejectsEmptyPlaintext(t *testing.T) {
	c, err := New(rawKey, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Encrypt(""); err == nil {
		t.Fatal("expected an error for empty plaintext")
	}
}

func TestDecryptRejectsBadInput(t *testing.T) {
	c, err := New(rawKey, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decrypt(nil); err == nil {
		t.Fatal("expected an error for empty ciphertext")
	}
	if _, err := c.Decrypt([]byte("not a block multiple")); err == nil {
		t.Fatal("expected an error for unaligned ciphertext")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	c1, err := New(rawKey, "")
	if err != nil {
		t.Fatal(err)
	}
	c2, err := New(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x07}, 32)), "")
	if err != nil {
		t.Fatal(err)
	}
	enc, err := c1.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	if got, err := c2.Decrypt(enc); err == nil && got == "secret" {
		t.Fatal("decrypt with the wrong key must not recover the plaintext")
	}
}
