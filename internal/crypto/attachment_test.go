package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
)

// xorWrap is a stand-in wrapping capability: it XORs the key with a
// per-recipient byte so unwrapping with the wrong recipient fails loudly.
func xorWrap(key []byte, recipientID int64) (string, error) {
	out := make([]byte, len(key))
	for i, b := range key {
		out[i] = b ^ byte(recipientID)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func xorUnwrap(recipientID int64) UnwrapKeyFunc {
	return func(wrapped string) ([]byte, error) {
		raw, err := base64.StdEncoding.DecodeString(wrapped)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(raw))
		for i, b := range raw {
			out[i] = b ^ byte(recipientID)
		}
		return out, nil
	}
}

func TestRoundTrip(t *testing.T) {
	plaintext := []byte("attachment bytes, not necessarily text")

	blob, meta, err := EncryptAttachment(plaintext, "image/png", []int64{7, 12}, xorWrap)
	if err != nil {
		t.Fatal(err)
	}
	if len(meta.Envelopes) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(meta.Envelopes))
	}
	if meta.Size != int64(len(plaintext)) {
		t.Fatalf("expected size %d, got %d", len(plaintext), meta.Size)
	}
	if meta.PlainKey != "" {
		t.Fatal("new writes must not carry a plain key")
	}

	for _, recipient := range []int64{7, 12} {
		got, err := DecryptAttachment(blob, meta, recipient, xorUnwrap(recipient))
		if err != nil {
			t.Fatalf("decrypt for %d: %v", recipient, err)
		}
		if string(got) != string(plaintext) {
			t.Fatalf("recipient %d got altered plaintext", recipient)
		}
	}
}

func TestFreshKeyPerAttachment(t *testing.T) {
	blob1, meta1, err := EncryptAttachment([]byte("same"), "text/plain", []int64{1}, xorWrap)
	if err != nil {
		t.Fatal(err)
	}
	blob2, meta2, err := EncryptAttachment([]byte("same"), "text/plain", []int64{1}, xorWrap)
	if err != nil {
		t.Fatal(err)
	}
	if string(blob1) == string(blob2) {
		t.Fatal("ciphertexts should differ for same plaintext")
	}
	if meta1.Envelopes[1] == meta2.Envelopes[1] {
		t.Fatal("content keys should differ across attachments")
	}
}

func TestTamperedCiphertext(t *testing.T) {
	blob, meta, err := EncryptAttachment([]byte("secret"), "text/plain", []int64{3}, xorWrap)
	if err != nil {
		t.Fatal(err)
	}

	blob[0] ^= 0x01
	_, err = DecryptAttachment(blob, meta, 3, xorUnwrap(3))
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestEnvelopeMissing(t *testing.T) {
	blob, meta, err := EncryptAttachment([]byte("secret"), "text/plain", []int64{3}, xorWrap)
	if err != nil {
		t.Fatal(err)
	}

	_, err = DecryptAttachment(blob, meta, 99, xorUnwrap(99))
	if !errors.Is(err, ErrEnvelopeMissing) {
		t.Fatalf("expected ErrEnvelopeMissing, got %v", err)
	}
}

func TestWrapFailureFailsWholeOperation(t *testing.T) {
	failSecond := func(key []byte, recipientID int64) (string, error) {
		if recipientID == 2 {
			return "", fmt.Errorf("device key not provisioned")
		}
		return xorWrap(key, recipientID)
	}

	_, _, err := EncryptAttachment([]byte("secret"), "text/plain", []int64{1, 2}, failSecond)
	if !errors.Is(err, ErrWrapFailed) {
		t.Fatalf("expected ErrWrapFailed, got %v", err)
	}
}

func TestLegacyPlainKeyHonoredOnDecrypt(t *testing.T) {
	// Produce a blob normally, then rewrite the meta the way old rows
	// looked: no envelope for the reader, raw key stored directly.
	blob, meta, err := EncryptAttachment([]byte("old row"), "text/plain", []int64{5}, xorWrap)
	if err != nil {
		t.Fatal(err)
	}
	key, err := xorUnwrap(5)(meta.Envelopes[5])
	if err != nil {
		t.Fatal(err)
	}
	legacy := Meta{
		IV:       meta.IV,
		Mime:     meta.Mime,
		Size:     meta.Size,
		PlainKey: base64.StdEncoding.EncodeToString(key),
	}

	got, err := DecryptAttachment(blob, legacy, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "old row" {
		t.Fatalf("unexpected plaintext %q", got)
	}
}
