package repositories

import (
	"context"
	"errors"
	"sort"
	"sync"

	"chat-relay/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// JoinResult is what a joining client needs to render the room.
type JoinResult struct {
	History      []models.Message
	Participants []models.Identity
	// Added is false when the identity was already a participant.
	Added bool
}

// RoomRepository abstracts room membership and message log persistence.
type RoomRepository interface {
	Join(ctx context.Context, roomID string, identity models.Identity) (JoinResult, error)
	Append(ctx context.Context, roomID string, msg models.Message) (models.Message, error)
	Leave(ctx context.Context, identityID string) ([]string, error)
	MarkRead(ctx context.Context, roomID string, messageIDs []string) ([]string, error)
	Participants(ctx context.Context, roomID string) ([]models.Identity, error)
	ListRooms(ctx context.Context) ([]models.RoomSummary, error)
	GetMessages(ctx context.Context, roomID string) ([]models.Message, error)
	// Reset empties every room's participant set. Message logs are kept.
	Reset(ctx context.Context) error
}

type memoryRoom struct {
	id           string
	participants []models.Identity
	messages     []models.Message
	index        map[string]int // message id -> position in messages
}

func (r *memoryRoom) hasParticipant(identityID string) bool {
	for _, p := range r.participants {
		if p.ID == identityID {
			return true
		}
	}
	return false
}

// MemoryRoomRepo keeps rooms in process memory. Rooms are never deleted.
type MemoryRoomRepo struct {
	mu    sync.RWMutex
	rooms map[string]*memoryRoom
}

// NewMemoryRoomRepo constructs an empty MemoryRoomRepo.
func NewMemoryRoomRepo() *MemoryRoomRepo {
	return &MemoryRoomRepo{rooms: make(map[string]*memoryRoom)}
}

// Join creates the room on first use and adds the identity once.
func (r *MemoryRoomRepo) Join(_ context.Context, roomID string, identity models.Identity) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = &memoryRoom{id: roomID, index: make(map[string]int)}
		r.rooms[roomID] = room
	}

	added := false
	if !room.hasParticipant(identity.ID) {
		room.participants = append(room.participants, identity)
		added = true
	}

	return JoinResult{
		History:      copyMessages(room.messages),
		Participants: copyIdentities(room.participants),
		Added:        added,
	}, nil
}

// Append adds msg to the end of the room log.
func (r *MemoryRoomRepo) Append(_ context.Context, roomID string, msg models.Message) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return models.Message{}, ErrRoomNotFound
	}

	msg.RoomID = roomID
	msg.Attachments = copyAttachments(msg.Attachments)
	room.index[msg.ID] = len(room.messages)
	room.messages = append(room.messages, msg)
	return msg, nil
}

// Leave removes the identity from every room and reports which rooms changed.
func (r *MemoryRoomRepo) Leave(_ context.Context, identityID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []string
	for id, room := range r.rooms {
		for i, p := range room.participants {
			if p.ID == identityID {
				room.participants = append(room.participants[:i], room.participants[i+1:]...)
				affected = append(affected, id)
				break
			}
		}
	}
	sort.Strings(affected)
	return affected, nil
}

// MarkRead flips read to true and returns the ids that changed.
// Unknown ids and already-read messages are ignored.
func (r *MemoryRoomRepo) MarkRead(_ context.Context, roomID string, messageIDs []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	var changed []string
	for _, id := range messageIDs {
		pos, ok := room.index[id]
		if !ok || room.messages[pos].Read {
			continue
		}
		room.messages[pos].Read = true
		changed = append(changed, id)
	}
	return changed, nil
}

// Participants returns the room's participants in join order.
func (r *MemoryRoomRepo) Participants(_ context.Context, roomID string) ([]models.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return copyIdentities(room.participants), nil
}

// ListRooms returns every room sorted by id.
func (r *MemoryRoomRepo) ListRooms(_ context.Context) ([]models.RoomSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]models.RoomSummary, 0, len(r.rooms))
	for _, room := range r.rooms {
		summary := models.RoomSummary{ID: room.id, ParticipantCount: len(room.participants)}
		if n := len(room.messages); n > 0 {
			last := room.messages[n-1]
			last.Attachments = copyAttachments(last.Attachments)
			summary.LastMessage = &last
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries, nil
}

// Reset drops all participants.
func (r *MemoryRoomRepo) Reset(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		room.participants = nil
	}
	return nil
}

// GetMessages returns the full ordered log of a room.
func (r *MemoryRoomRepo) GetMessages(_ context.Context, roomID string) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return copyMessages(room.messages), nil
}

func copyMessages(in []models.Message) []models.Message {
	out := make([]models.Message, len(in))
	for i, m := range in {
		m.Attachments = copyAttachments(m.Attachments)
		out[i] = m
	}
	return out
}

func copyIdentities(in []models.Identity) []models.Identity {
	out := make([]models.Identity, len(in))
	copy(out, in)
	return out
}

func copyAttachments(in []models.Attachment) []models.Attachment {
	if in == nil {
		return nil
	}
	out := make([]models.Attachment, len(in))
	copy(out, in)
	return out
}

var _ RoomRepository = (*MemoryRoomRepo)(nil)
