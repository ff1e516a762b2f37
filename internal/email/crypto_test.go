package email

import (
	"strings"
	"testing"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("some passphrase-style key material")
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	envelope, err := c.Encrypt("imap-password-123")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if strings.Contains(envelope, "imap-password-123") {
		t.Error("Envelope must not contain the plaintext")
	}

	plaintext, err := c.Decrypt(envelope)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if plaintext != "imap-password-123" {
		t.Errorf("Round trip mismatch: %q", plaintext)
	}
}

func TestCipherHexKey(t *testing.T) {
	hexKey := strings.Repeat("ab", 32) // 64 hex chars = 32 bytes
	c, err := NewCipher(hexKey)
	if err != nil {
		t.Fatalf("NewCipher failed on hex key: %v", err)
	}
	envelope, err := c.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	if got, err := c.Decrypt(envelope); err != nil || got != "secret" {
		t.Errorf("Hex key round trip failed: %q, %v", got, err)
	}
}

func TestCipherEmptyKeyRejected(t *testing.T) {
	if _, err := NewCipher(""); err == nil {
		t.Error("Expected error for empty key material")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, _ := NewCipher("key-a")
	envelope, err := c.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Decrypt("not base64 at all!"); err == nil {
		t.Error("Expected error for invalid base64")
	}
	if _, err := c.Decrypt("c2hvcnQ="); err == nil {
		t.Error("Expected error for truncated envelope")
	}

	other, _ := NewCipher("key-b")
	if _, err := other.Decrypt(envelope); err == nil {
		t.Error("Expected error decrypting with the wrong key")
	}
}

func TestEncryptNoncesDiffer(t *testing.T) {
	c, _ := NewCipher("key")
	a, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("Two encryptions of the same plaintext must differ")
	}
}
