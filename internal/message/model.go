package message

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sealchat/internal/crypto"
)

var (
	ErrNotFound   = errors.New("message not found")
	ErrInvalidArg = errors.New("invalid send request")
)

// Envelope is one row of the append-only message log. The server never
// decrypts CipherText; read_at and viewed_by are the only mutable fields
// and both move monotonically.
type Envelope struct {
	ID             uuid.UUID    `json:"id"`
	ConversationID uuid.UUID    `json:"conversation_id"`
	SenderUserID   int64        `json:"sender_user_id"`
	SenderDeviceID string       `json:"sender_device_id"`
	MessageID      string       `json:"message_id"`
	CipherText     string       `json:"cipher_text"`
	AttachmentURL  string       `json:"attachment_url,omitempty"`
	AttachmentMeta *crypto.Meta `json:"attachment_meta,omitempty"`
	ReadAt         *time.Time   `json:"read_at,omitempty"`
	ViewedBy       []int64      `json:"viewed_by"`
	CreatedAt      time.Time    `json:"created_at"`
}

// SendRequest is the input of the send operation. MessageID is the
// client-supplied idempotency key, unique per conversation.
type SendRequest struct {
	ConversationID uuid.UUID    `json:"conversation_id"`
	SenderUserID   int64        `json:"-"`
	SenderDeviceID string       `json:"-"`
	MessageID      string       `json:"message_id"`
	CipherText     string       `json:"cipher_text"`
	AttachmentURL  string       `json:"attachment_url,omitempty"`
	AttachmentMeta *crypto.Meta `json:"attachment_meta,omitempty"`
}

func (r *SendRequest) validate() error {
	if r.ConversationID == uuid.Nil {
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidArg)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: message_id is required", ErrInvalidArg)
	}
	if r.CipherText == "" {
		return fmt.Errorf("%w: cipher_text is required", ErrInvalidArg)
	}
	if r.AttachmentURL != "" && r.AttachmentMeta == nil {
		return fmt.Errorf("%w: attachment_meta is required with attachment_url", ErrInvalidArg)
	}
	return nil
}
