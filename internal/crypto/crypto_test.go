package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		password string
	}{
		{
			name:     "simple text",
			data:     []byte("Hello, World!"),
			password: "password123",
		},
		{
			name:     "empty data",
			data:     []byte(""),
			password: "password",
		},
		{
			name:     "binary data",
			data:     []byte{0x00, 0x01, 0x02, 0xFF, 0xFE},
			password: "secret",
		},
		{
			name:     "long text",
			data:     bytes.Repeat([]byte("Lorem ipsum dolor sit amet. "), 100),
			password: "longpassword",
		},
		{
			name:     "empty password",
			data:     []byte("still encrypted, just with an empty pass"),
			password: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewEnvelope([]byte(tt.password))

			encrypted, err := env.Encrypt(tt.data)
			if err != nil {
				t.Fatalf("encrypt failed: %v", err)
			}

			if !bytes.HasPrefix(encrypted, []byte(saltMagic)) {
				t.Error("encrypted blob missing Salted__ header")
			}

			decrypted, err := env.Decrypt(encrypted)
			if err != nil {
				t.Fatalf("decrypt failed: %v", err)
			}

			if !bytes.Equal(decrypted, tt.data) {
				t.Errorf("decrypted data doesn't match original: got %q want %q", decrypted, tt.data)
			}
		})
	}
}

func TestDecryptWithWrongPassword(t *testing.T) {
	env := NewEnvelope([]byte("correct"))
	encrypted, err := env.Encrypt([]byte("Secret message"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	wrong := NewEnvelope([]byte("incorrect"))
	if _, err := wrong.Decrypt(encrypted); err == nil {
		t.Error("expected error when decrypting with wrong password")
	}
}

func TestDecryptMissingHeaderFallsBackToZeroSalt(t *testing.T) {
	env := NewEnvelope([]byte("password"))

	plaintext := []byte("legacy blob, no Salted__ prefix")
	key, iv := evpBytesToKey(make([]byte, saltLen), []byte("password"))
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	padded := pkcs7Pad(plaintext, blockBytes)
	legacy := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(legacy, padded)

	got, err := env.Decrypt(legacy)
	if err != nil {
		t.Fatalf("decrypt legacy blob failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("got %q, want %q", got, plaintext)
	}
}

func TestDecryptGarbageIsError(t *testing.T) {
	env := NewEnvelope([]byte("password"))
	if _, err := env.Decrypt([]byte("not block aligned")); err == nil {
		t.Error("expected an error for ciphertext that is not block aligned")
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	env := NewEnvelope([]byte("password"))
	data := []byte("Test data")

	a, err := env.Encrypt(data)
	if err != nil {
		t.Fatalf("first encrypt failed: %v", err)
	}
	b, err := env.Encrypt(data)
	if err != nil {
		t.Fatalf("second encrypt failed: %v", err)
	}

	if bytes.Equal(a, b) {
		t.Error("encrypting same data twice should produce different ciphertext (random salt)")
	}
}

// TestEVPBytesToKeyKnownVector pins the key/iv derivation against a fixed
// salt and password so any accidental algorithm drift (e.g. swapping in a
// modern KDF) gets caught even without openssl available to cross-check.
func TestEVPBytesToKeyKnownVector(t *testing.T) {
	salt := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	pass := []byte("hunter2")

	key, iv := evpBytesToKey(salt, pass)

	if len(key) != keyLen {
		t.Fatalf("key length = %d, want %d", len(key), keyLen)
	}
	if len(iv) != ivLen {
		t.Fatalf("iv length = %d, want %d", len(iv), ivLen)
	}

	// Same values as `openssl enc -aes-256-cbc -P -md sha1 -S 0102030405060708 -pass pass:hunter2`.
	if got, want := hex.EncodeToString(key), "c844718a91e5a24cc81c895b38fcf9ac49620d28068eb4c9367a84bdca0cec79"; got != want {
		t.Errorf("key = %s, want %s", got, want)
	}
	if got, want := hex.EncodeToString(iv), "52ad0348287af1bd74bbb539fc0c217d"; got != want {
		t.Errorf("iv = %s, want %s", got, want)
	}

	key2, iv2 := evpBytesToKey(salt, pass)
	if !bytes.Equal(key, key2) || !bytes.Equal(iv, iv2) {
		t.Error("derivation is not deterministic for the same salt and password")
	}

	otherSalt := []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	key3, _ := evpBytesToKey(otherSalt, pass)
	if bytes.Equal(key, key3) {
		t.Error("different salts should not derive the same key")
	}
}

func TestSHA256Hex(t *testing.T) {
	got := SHA256Hex("INBOX")
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	if _, err := hex.DecodeString(got); err != nil {
		t.Fatalf("not valid hex: %v", err)
	}

	if SHA256Hex("INBOX") != got {
		t.Error("SHA256Hex is not deterministic")
	}
	if SHA256Hex("inbox") == got {
		t.Error("SHA256Hex should be case sensitive")
	}
}
