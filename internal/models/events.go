package models

// Inbound event names.
const (
	EventAuthenticate     = "authenticate"
	EventJoinRoom         = "join-room"
	EventSendMessage      = "send-message"
	EventTyping           = "typing"
	EventMarkRead         = "mark-read"
	EventShareFile        = "share-file"
	EventScreenShareStart = "screen-share-start"
	EventScreenShareStop  = "screen-share-stop"
)

// Outbound event names.
const (
	EventUsersUpdate        = "users-update"
	EventRoomMessages       = "room-messages"
	EventRoomParticipants   = "room-participants"
	EventUserJoined         = "user-joined"
	EventNewMessage         = "new-message"
	EventUserTyping         = "user-typing"
	EventMessagesRead       = "messages-read"
	EventNewFile            = "new-file"
	EventScreenShareStarted = "screen-share-started"
	EventScreenShareStopped = "screen-share-stopped"
	EventUserLeft           = "user-left"
	EventError              = "error"
)

// ClientEvent is the closed set of events a client may send.
// Only types declared in this package implement it.
type ClientEvent interface {
	Name() string
	clientEvent()
}

// Authenticate binds an upstream-verified identity to the connection.
type Authenticate struct {
	Identity
}

// JoinRoom subscribes the connection to a room.
type JoinRoom struct {
	RoomID string `json:"roomId"`
}

// SendMessage posts a text message to a room.
type SendMessage struct {
	RoomID      string       `json:"roomId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Typing signals that the sender started or stopped composing.
type Typing struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// MarkRead flags messages as read.
type MarkRead struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}

// ShareFile posts a file message to a room.
type ShareFile struct {
	RoomID string     `json:"roomId"`
	File   Attachment `json:"file"`
}

// ScreenShareStart announces the sender started sharing their screen.
type ScreenShareStart struct {
	RoomID string `json:"roomId"`
}

// ScreenShareStop announces the sender stopped sharing their screen.
type ScreenShareStop struct {
	RoomID string `json:"roomId"`
}

func (Authenticate) Name() string     { return EventAuthenticate }
func (JoinRoom) Name() string         { return EventJoinRoom }
func (SendMessage) Name() string      { return EventSendMessage }
func (Typing) Name() string           { return EventTyping }
func (MarkRead) Name() string         { return EventMarkRead }
func (ShareFile) Name() string        { return EventShareFile }
func (ScreenShareStart) Name() string { return EventScreenShareStart }
func (ScreenShareStop) Name() string  { return EventScreenShareStop }

func (Authenticate) clientEvent()     {}
func (JoinRoom) clientEvent()         {}
func (SendMessage) clientEvent()      {}
func (Typing) clientEvent()           {}
func (MarkRead) clientEvent()         {}
func (ShareFile) clientEvent()        {}
func (ScreenShareStart) clientEvent() {}
func (ScreenShareStop) clientEvent()  {}

// ServerEvent is broadcasted through websockets.
type ServerEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// RoomMessagesPayload replays a room's history to a joining client.
type RoomMessagesPayload struct {
	RoomID   string    `json:"roomId"`
	Messages []Message `json:"messages"`
}

// RoomParticipantsPayload carries the current participant list of a room.
type RoomParticipantsPayload struct {
	RoomID       string     `json:"roomId"`
	Participants []Identity `json:"participants"`
}

// MembershipPayload announces a join or a leave.
type MembershipPayload struct {
	RoomID string   `json:"roomId"`
	User   Identity `json:"user"`
}

// TypingPayload is relayed to the rest of a room.
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	IsTyping bool   `json:"isTyping"`
}

// MessagesReadPayload lists messages that were just marked read.
type MessagesReadPayload struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
	ReadBy     string   `json:"readBy"`
}

// ScreenSharePayload carries a screen-share start or stop signal.
type ScreenSharePayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ErrorPayload is sent to a single client when its frame cannot be processed.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
