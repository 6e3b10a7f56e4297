package models

import "time"

// MessageType distinguishes plain chat text from shared files.
type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

// Attachment describes a file held by the external blob store.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Message represents a chat message appended to a room log.
type Message struct {
	ID          string       `db:"id" json:"id"`
	RoomID      string       `db:"room_id" json:"roomId"`
	Type        MessageType  `db:"type" json:"type"`
	Content     string       `db:"content" json:"content"`
	Attachments []Attachment `db:"-" json:"attachments,omitempty"`
	SenderID    string       `db:"sender_id" json:"senderId"`
	SenderName  string       `db:"sender_name" json:"senderName"`
	Timestamp   time.Time    `db:"created_at" json:"timestamp"`
	Read        bool         `db:"read" json:"read"`
}

// RoomSummary is the read-only projection served by the query surface.
type RoomSummary struct {
	ID               string   `json:"id"`
	ParticipantCount int      `json:"participantCount"`
	LastMessage      *Message `json:"lastMessage"`
}
