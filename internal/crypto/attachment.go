// Package crypto implements the attachment encryption envelope scheme.
//
// Every attachment is sealed with a fresh random 256-bit content key and a
// fresh 96-bit nonce under ChaCha20-Poly1305, so a key is never reused across
// attachments. The content key itself is handed to an injected wrapping
// capability once per recipient; only the wrapped copies are ever stored.
// The server side never sees plaintext bytes or unwrapped keys.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const contentKeySize = chacha20poly1305.KeySize // 32 bytes

var (
	// ErrEnvelopeMissing means no wrapped content key exists for the
	// requesting recipient. Not retryable without re-sharing.
	ErrEnvelopeMissing = errors.New("no key envelope for recipient")

	// ErrAuthenticationFailed means the ciphertext or tag did not verify.
	// Altered plaintext is never returned.
	ErrAuthenticationFailed = errors.New("attachment authentication failed")

	// ErrWrapFailed means wrapping the content key for a recipient failed;
	// the whole encrypt operation is abandoned rather than degraded.
	ErrWrapFailed = errors.New("content key wrapping failed")
)

// WrapKeyFunc wraps a content key for one recipient and returns an opaque
// encoded envelope. Key exchange between devices is outside this package.
type WrapKeyFunc func(key []byte, recipientID int64) (string, error)

// UnwrapKeyFunc recovers a content key from the caller's own envelope.
type UnwrapKeyFunc func(wrapped string) ([]byte, error)

// Meta travels alongside the ciphertext blob. Envelopes maps recipient user
// id to that recipient's wrapped copy of the content key.
type Meta struct {
	IV        string           `json:"iv"`
	Mime      string           `json:"mime"`
	Size      int64            `json:"size"`
	Envelopes map[int64]string `json:"envelopes"`

	// PlainKey is a deprecated unwrapped-key field honored on decrypt for
	// old rows. New writes never populate it.
	PlainKey string `json:"plain_key,omitempty"`
}

// EncryptAttachment seals plaintext and wraps the content key for every
// recipient. If wrapping fails for any recipient the operation fails whole:
// an attachment some participants cannot open must not be written.
func EncryptAttachment(plaintext []byte, mime string, recipients []int64, wrap WrapKeyFunc) ([]byte, Meta, error) {
	if len(recipients) == 0 {
		return nil, Meta{}, errors.New("no recipients")
	}
	if wrap == nil {
		return nil, Meta{}, errors.New("wrap capability is required")
	}

	key := make([]byte, contentKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, Meta{}, fmt.Errorf("generate content key: %w", err)
	}
	defer wipe(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, Meta{}, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, Meta{}, fmt.Errorf("generate nonce: %w", err)
	}

	cipherBlob := aead.Seal(nil, nonce, plaintext, nil)

	envelopes := make(map[int64]string, len(recipients))
	for _, recipientID := range recipients {
		wrapped, err := wrap(key, recipientID)
		if err != nil {
			return nil, Meta{}, fmt.Errorf("%w: recipient %d: %v", ErrWrapFailed, recipientID, err)
		}
		envelopes[recipientID] = wrapped
	}

	meta := Meta{
		IV:        base64.StdEncoding.EncodeToString(nonce),
		Mime:      mime,
		Size:      int64(len(plaintext)),
		Envelopes: envelopes,
	}
	return cipherBlob, meta, nil
}

// DecryptAttachment recovers the plaintext for one recipient. The caller's
// envelope is located by user id, unwrapped via the injected capability, and
// the ciphertext is opened with AEAD verification.
func DecryptAttachment(cipherBlob []byte, meta Meta, selfUserID int64, unwrap UnwrapKeyFunc) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(meta.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("invalid iv length: got %d want %d", len(nonce), chacha20poly1305.NonceSize)
	}

	key, err := contentKeyFor(meta, selfUserID, unwrap)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, cipherBlob, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func contentKeyFor(meta Meta, selfUserID int64, unwrap UnwrapKeyFunc) ([]byte, error) {
	if wrapped, ok := meta.Envelopes[selfUserID]; ok {
		if unwrap == nil {
			return nil, errors.New("unwrap capability is required")
		}
		key, err := unwrap(wrapped)
		if err != nil {
			return nil, fmt.Errorf("unwrap content key: %w", err)
		}
		if len(key) != contentKeySize {
			return nil, fmt.Errorf("invalid content key length: got %d want %d", len(key), contentKeySize)
		}
		return key, nil
	}

	// Legacy rows carried the raw key; honor read-only.
	if meta.PlainKey != "" {
		key, err := base64.StdEncoding.DecodeString(meta.PlainKey)
		if err != nil {
			return nil, fmt.Errorf("decode legacy key: %w", err)
		}
		if len(key) != contentKeySize {
			return nil, fmt.Errorf("invalid legacy key length: got %d want %d", len(key), contentKeySize)
		}
		return key, nil
	}

	return nil, ErrEnvelopeMissing
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
