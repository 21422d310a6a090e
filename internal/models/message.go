package models

import "time"

// Message types.
const (
	MessageTypeText         = "text"
	MessageTypeImage        = "image"
	MessageTypeFile         = "file"
	MessageTypeSystem       = "system"
	MessageTypeAnnouncement = "announcement"
)

// DeletedPlaceholder replaces the content of soft-deleted messages.
const DeletedPlaceholder = "This message was deleted"

// Message is a chat message. ChatID, SenderID and CreatedAt never change after insert.
type Message struct {
	ID              int           `db:"id" json:"id"`
	ChatID          int           `db:"chat_id" json:"chat_id"`
	SenderID        int           `db:"sender_id" json:"sender_id"`
	Content         string        `db:"content" json:"content"`
	MessageType     string        `db:"message_type" json:"message_type"`
	ReplyToID       *int          `db:"reply_to_id" json:"reply_to_id,omitempty"`
	ClientMessageID *string       `db:"client_message_id" json:"client_message_id,omitempty"`
	IsEdited        bool          `db:"is_edited" json:"is_edited"`
	EditedAt        *time.Time    `db:"edited_at" json:"edited_at,omitempty"`
	IsDeleted       bool          `db:"is_deleted" json:"is_deleted"`
	DeletedAt       *time.Time    `db:"deleted_at" json:"deleted_at,omitempty"`
	DeletedBy       *int          `db:"deleted_by" json:"deleted_by,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	Sender          *UserSummary  `db:"-" json:"sender,omitempty"`
	Attachments     []Attachment  `db:"-" json:"attachments"`
	ReplyTo         *ReplyPreview `db:"-" json:"reply_to,omitempty"`
}

// Attachment is a stored file referenced by a message.
type Attachment struct {
	ID        int    `db:"id" json:"id"`
	MessageID int    `db:"message_id" json:"message_id"`
	URL       string `db:"url" json:"url"`
	FileName  string `db:"file_name" json:"file_name"`
	MimeType  string `db:"mime_type" json:"mime_type"`
	Size      int64  `db:"size" json:"size"`
}

// ReplyPreview is the short form of a replied-to message.
type ReplyPreview struct {
	ID        int    `json:"id"`
	SenderID  int    `json:"sender_id"`
	Content   string `json:"content"`
	IsDeleted bool   `json:"is_deleted"`
}

// MessagePage is one window of cursor-paginated history, oldest first.
type MessagePage struct {
	Messages        []Message `json:"messages"`
	HasMore         bool      `json:"has_more"`
	OldestMessageID *int      `json:"oldest_message_id"`
	NewestMessageID *int      `json:"newest_message_id"`
}

// ValidMessageType reports whether t is a known message type.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem, MessageTypeAnnouncement:
		return true
	}
	return false
}
