package ws

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
)

// DefaultTypingTimeout is how long a typing indicator lives without a refresh.
const DefaultTypingTimeout = 3 * time.Second

// releaseTimeout bounds the store writes made while the hub shuts down.
const releaseTimeout = 5 * time.Second

// ErrHubStopped is returned when posting to a hub whose Run loop has exited.
var ErrHubStopped = errors.New("hub stopped")

// Drop reasons.
const (
	reasonUnauthenticated = "unauthenticated"
	reasonUnknownRoom     = "unknown-room"
	reasonStoreError      = "store-error"
	reasonBadRequest      = "bad-request"
)

type sanitizer interface {
	Sanitize(s string) string
}

type hubEvent interface {
	hubEvent()
}

type connected struct {
	info ConnInfo
	sink Sink
}

type submitted struct {
	handle string
	ev     models.ClientEvent
}

type disconnected struct {
	handle string
	done   chan struct{}
}

type typingExpired struct {
	key typingKey
	gen uint64
}

func eventLabel(ev hubEvent) string {
	switch e := ev.(type) {
	case connected:
		return "connect"
	case submitted:
		return e.ev.Name()
	case disconnected:
		return "disconnect"
	case typingExpired:
		return "typing-expired"
	default:
		return "unknown"
	}
}

func (connected) hubEvent()     {}
func (submitted) hubEvent()     {}
func (disconnected) hubEvent()  {}
func (typingExpired) hubEvent() {}

type typingKey struct {
	roomID     string
	identityID string
}

type typingState struct {
	timer    *time.Timer
	gen      uint64
	identity models.Identity
}

// Hub is the single event loop that applies client events to the room and
// presence stores and fans the results out to connected sinks.
type Hub struct {
	rooms    repositories.RoomRepository
	presence repositories.PresenceRepository
	registry *Registry

	// roomID -> subscribed connection handles
	subscriptions map[string]map[string]struct{}
	// handle -> rooms it subscribed to
	handleRooms map[string]map[string]struct{}
	typing      map[typingKey]*typingState
	evicted     []string
	attached    atomic.Int64

	inbox chan hubEvent
	done  chan struct{}

	logger        *zap.Logger
	audit         *telemetry.AuditEmitter
	sanitizer     sanitizer
	typingTimeout time.Duration
	newID         func() string
	now           func() time.Time
}

type Option interface {
	apply(*Hub)
}

type optionFunc func(h *Hub)

func (f optionFunc) apply(h *Hub) { f(h) }

// WithTypingTimeout overrides DefaultTypingTimeout.
func WithTypingTimeout(d time.Duration) Option {
	return optionFunc(func(h *Hub) {
		if d > 0 {
			h.typingTimeout = d
		}
	})
}

func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	})
}

// WithAuditEmitter publishes an audit record for every dropped event.
func WithAuditEmitter(audit *telemetry.AuditEmitter) Option {
	return optionFunc(func(h *Hub) { h.audit = audit })
}

func WithInboxSize(n int) Option {
	return optionFunc(func(h *Hub) {
		if n > 0 {
			h.inbox = make(chan hubEvent, n)
		}
	})
}

// NewHub creates a hub. Call Run to start processing.
func NewHub(rooms repositories.RoomRepository, presence repositories.PresenceRepository, opts ...Option) *Hub {
	h := &Hub{
		rooms:         rooms,
		presence:      presence,
		registry:      NewRegistry(),
		subscriptions: make(map[string]map[string]struct{}),
		handleRooms:   make(map[string]map[string]struct{}),
		typing:        make(map[typingKey]*typingState),
		inbox:         make(chan hubEvent, 1024),
		done:          make(chan struct{}),
		logger:        zap.NewNop(),
		sanitizer:     bluemonday.StrictPolicy(),
		typingTimeout: DefaultTypingTimeout,
		newID:         uuid.NewString,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt.apply(h)
	}
	return h
}

// Run processes events until ctx is cancelled. On return every typing timer
// is stopped, every attached sink is closed and every connected identity is
// marked offline and removed from its rooms.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown(ctx)

	for {
		select {
		case ev := <-h.inbox:
			start := time.Now()
			h.handle(ctx, ev)
			h.drainEvictions(ctx)
			h.attached.Store(int64(h.registry.Len()))
			observability.ObserveHubEvent(eventLabel(ev), time.Since(start), len(h.inbox))

		case <-ctx.Done():
			h.logger.Info("hub stopped", zap.Error(ctx.Err()))
			return
		}
	}
}

// Connect attaches a transport connection to the hub.
func (h *Hub) Connect(ctx context.Context, info ConnInfo, sink Sink) error {
	return h.post(ctx, connected{info: info, sink: sink})
}

// Submit queues a client event received on handle.
func (h *Hub) Submit(ctx context.Context, handle string, ev models.ClientEvent) error {
	return h.post(ctx, submitted{handle: handle, ev: ev})
}

// Disconnect detaches handle and waits until the hub has processed it.
func (h *Hub) Disconnect(ctx context.Context, handle string) error {
	done := make(chan struct{})
	if err := h.post(ctx, disconnected{handle: handle, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionCount reports how many connections were attached after the last
// processed event. Safe for concurrent use.
func (h *Hub) ConnectionCount() int {
	return int(h.attached.Load())
}

func (h *Hub) post(ctx context.Context, ev hubEvent) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.inbox <- ev:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	close(h.done)
	for key, st := range h.typing {
		st.timer.Stop()
		delete(h.typing, key)
	}
	for _, handle := range h.registry.Handles() {
		if sink, ok := h.registry.Sink(handle); ok {
			sink.Close()
		}
	}

	// ctx is already cancelled here; the stores still need to be written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	for _, identity := range h.registry.Identities() {
		h.release(ctx, identity)
	}
}

// release clears an identity from the stores without broadcasting.
func (h *Hub) release(ctx context.Context, identity models.Identity) {
	if err := h.presence.SetOffline(ctx, identity); err != nil {
		h.logger.Error("set offline failed", zap.String("identity", identity.ID), zap.Error(err))
	}
	if _, err := h.rooms.Leave(ctx, identity.ID); err != nil {
		h.logger.Error("leave rooms failed", zap.String("identity", identity.ID), zap.Error(err))
	}
}

func (h *Hub) handle(ctx context.Context, ev hubEvent) {
	switch e := ev.(type) {
	case connected:
		h.registry.Attach(e.info, e.sink)
		h.logger.Debug("connection attached", zap.String("handle", e.info.Handle))
	case submitted:
		h.dispatch(ctx, e.handle, e.ev)
	case disconnected:
		h.disconnect(ctx, e.handle)
		close(e.done)
	case typingExpired:
		h.expireTyping(e)
	}
}

func (h *Hub) dispatch(ctx context.Context, handle string, ev models.ClientEvent) {
	if auth, ok := ev.(models.Authenticate); ok {
		h.authenticate(ctx, handle, auth.Identity)
		return
	}

	identity, ok := h.registry.Resolve(handle)
	if !ok {
		h.drop(ctx, handle, nil, ev.Name(), reasonUnauthenticated)
		return
	}

	switch e := ev.(type) {
	case models.JoinRoom:
		h.join(ctx, handle, identity, e)
	case models.SendMessage:
		h.sendMessage(ctx, handle, identity, e)
	case models.Typing:
		h.setTyping(handle, identity, e)
	case models.MarkRead:
		h.markRead(ctx, handle, identity, e)
	case models.ShareFile:
		h.shareFile(ctx, handle, identity, e)
	case models.ScreenShareStart:
		h.broadcast(e.RoomID, handle, models.ServerEvent{
			Event: models.EventScreenShareStarted,
			Data:  models.ScreenSharePayload{RoomID: e.RoomID, UserID: identity.ID},
		})
	case models.ScreenShareStop:
		h.broadcast(e.RoomID, handle, models.ServerEvent{
			Event: models.EventScreenShareStopped,
			Data:  models.ScreenSharePayload{RoomID: e.RoomID, UserID: identity.ID},
		})
	default:
		h.logger.Error("unhandled client event", zap.String("event", ev.Name()))
	}
}

func (h *Hub) authenticate(ctx context.Context, handle string, identity models.Identity) {
	identity.Name = h.plainText(identity.Name)
	identity.Role = h.plainText(identity.Role)

	prev, hadPrev := h.registry.Resolve(handle)
	h.registry.Register(handle, identity)
	if hadPrev && prev.ID != identity.ID {
		h.unsubscribeAll(handle)
		if h.registry.Count(prev.ID) == 0 {
			h.depart(ctx, prev)
		}
	}

	if err := h.presence.SetOnline(ctx, identity); err != nil {
		h.logger.Error("set online failed", zap.String("identity", identity.ID), zap.Error(err))
	}
	h.logger.Debug("connection authenticated", zap.String("handle", handle), zap.String("identity", identity.ID))
	h.broadcastPresence(ctx)
}

func (h *Hub) join(ctx context.Context, handle string, identity models.Identity, e models.JoinRoom) {
	res, err := h.rooms.Join(ctx, e.RoomID, identity)
	if err != nil {
		h.storeFailure(ctx, handle, identity, e.Name(), err)
		return
	}
	h.subscribe(e.RoomID, handle)

	h.sendTo(handle, models.ServerEvent{
		Event: models.EventRoomMessages,
		Data:  models.RoomMessagesPayload{RoomID: e.RoomID, Messages: res.History},
	})

	participants := models.ServerEvent{
		Event: models.EventRoomParticipants,
		Data:  models.RoomParticipantsPayload{RoomID: e.RoomID, Participants: res.Participants},
	}
	if !res.Added {
		h.sendTo(handle, participants)
		return
	}
	h.broadcast(e.RoomID, "", participants)
	h.broadcast(e.RoomID, handle, models.ServerEvent{
		Event: models.EventUserJoined,
		Data:  models.MembershipPayload{RoomID: e.RoomID, User: identity},
	})
}

func (h *Hub) sendMessage(ctx context.Context, handle string, identity models.Identity, e models.SendMessage) {
	content := h.plainText(e.Content)
	if strings.TrimSpace(content) == "" && len(e.Attachments) == 0 {
		h.drop(ctx, handle, &identity, e.Name(), reasonBadRequest)
		return
	}
	msg := models.Message{
		ID:          h.newID(),
		Type:        models.MessageTypeText,
		Content:     content,
		Attachments: e.Attachments,
		SenderID:    identity.ID,
		SenderName:  identity.Name,
		Timestamp:   h.now().UTC(),
	}
	stored, err := h.rooms.Append(ctx, e.RoomID, msg)
	if err != nil {
		h.storeFailure(ctx, handle, identity, e.Name(), err)
		return
	}
	h.broadcast(e.RoomID, "", models.ServerEvent{Event: models.EventNewMessage, Data: stored})
}

func (h *Hub) shareFile(ctx context.Context, handle string, identity models.Identity, e models.ShareFile) {
	file := e.File
	file.Name = h.plainText(file.Name)
	msg := models.Message{
		ID:          h.newID(),
		Type:        models.MessageTypeFile,
		Content:     file.Name,
		Attachments: []models.Attachment{file},
		SenderID:    identity.ID,
		SenderName:  identity.Name,
		Timestamp:   h.now().UTC(),
	}
	stored, err := h.rooms.Append(ctx, e.RoomID, msg)
	if err != nil {
		h.storeFailure(ctx, handle, identity, e.Name(), err)
		return
	}
	h.broadcast(e.RoomID, "", models.ServerEvent{Event: models.EventNewFile, Data: stored})
}

// plainText strips markup. The strict policy also escapes entities, which are
// decoded again: clients receive JSON and escape on render.
func (h *Hub) plainText(s string) string {
	return html.UnescapeString(h.sanitizer.Sanitize(s))
}

func (h *Hub) markRead(ctx context.Context, handle string, identity models.Identity, e models.MarkRead) {
	changed, err := h.rooms.MarkRead(ctx, e.RoomID, e.MessageIDs)
	if err != nil {
		h.storeFailure(ctx, handle, identity, e.Name(), err)
		return
	}
	if len(changed) == 0 {
		return
	}
	h.broadcast(e.RoomID, "", models.ServerEvent{
		Event: models.EventMessagesRead,
		Data:  models.MessagesReadPayload{RoomID: e.RoomID, MessageIDs: changed, ReadBy: identity.ID},
	})
}

func (h *Hub) setTyping(handle string, identity models.Identity, e models.Typing) {
	key := typingKey{roomID: e.RoomID, identityID: identity.ID}
	st, active := h.typing[key]

	if !e.IsTyping {
		if active {
			st.timer.Stop()
			delete(h.typing, key)
		}
		h.broadcastTyping(e.RoomID, handle, identity, false)
		return
	}

	if active {
		st.timer.Stop()
		st.gen++
	} else {
		st = &typingState{}
		h.typing[key] = st
	}
	st.identity = identity
	gen := st.gen
	st.timer = time.AfterFunc(h.typingTimeout, func() {
		select {
		case h.inbox <- typingExpired{key: key, gen: gen}:
		case <-h.done:
		}
	})
	h.broadcastTyping(e.RoomID, handle, identity, true)
}

// expireTyping ignores firings from timers that were reset or cancelled.
func (h *Hub) expireTyping(e typingExpired) {
	st, ok := h.typing[e.key]
	if !ok || st.gen != e.gen {
		return
	}
	delete(h.typing, e.key)
	h.broadcastTyping(e.key.roomID, "", st.identity, false)
}

func (h *Hub) broadcastTyping(roomID, except string, identity models.Identity, isTyping bool) {
	h.broadcast(roomID, except, models.ServerEvent{
		Event: models.EventUserTyping,
		Data: models.TypingPayload{
			RoomID:   roomID,
			UserID:   identity.ID,
			Name:     identity.Name,
			IsTyping: isTyping,
		},
	})
}

func (h *Hub) disconnect(ctx context.Context, handle string) {
	if sink, ok := h.registry.Sink(handle); ok {
		sink.Close()
	}
	h.unsubscribeAll(handle)

	identity, remaining, ok := h.registry.Unregister(handle)
	if !ok {
		return
	}
	h.logger.Debug("connection detached",
		zap.String("handle", handle),
		zap.String("identity", identity.ID),
		zap.Int("remaining", remaining),
	)
	if remaining > 0 {
		return
	}
	h.depart(ctx, identity)
}

// depart runs once an identity has no connection left: it goes offline and
// leaves every room it was in.
func (h *Hub) depart(ctx context.Context, identity models.Identity) {
	if err := h.presence.SetOffline(ctx, identity); err != nil {
		h.logger.Error("set offline failed", zap.String("identity", identity.ID), zap.Error(err))
	}

	rooms, err := h.rooms.Leave(ctx, identity.ID)
	if err != nil {
		h.logger.Error("leave rooms failed", zap.String("identity", identity.ID), zap.Error(err))
	}
	for _, roomID := range rooms {
		h.broadcast(roomID, "", models.ServerEvent{
			Event: models.EventUserLeft,
			Data:  models.MembershipPayload{RoomID: roomID, User: identity},
		})
		participants, err := h.rooms.Participants(ctx, roomID)
		if err != nil {
			h.logger.Error("load participants failed", zap.String("room", roomID), zap.Error(err))
			continue
		}
		h.broadcast(roomID, "", models.ServerEvent{
			Event: models.EventRoomParticipants,
			Data:  models.RoomParticipantsPayload{RoomID: roomID, Participants: participants},
		})
	}
	h.broadcastPresence(ctx)
}

func (h *Hub) broadcastPresence(ctx context.Context) {
	snapshot, err := h.presence.Snapshot(ctx)
	if err != nil {
		h.logger.Error("presence snapshot failed", zap.Error(err))
		return
	}
	ev := models.ServerEvent{Event: models.EventUsersUpdate, Data: snapshot}
	for _, handle := range h.registry.Handles() {
		h.sendTo(handle, ev)
	}
}

func (h *Hub) subscribe(roomID, handle string) {
	subs, ok := h.subscriptions[roomID]
	if !ok {
		subs = make(map[string]struct{})
		h.subscriptions[roomID] = subs
	}
	subs[handle] = struct{}{}

	rooms, ok := h.handleRooms[handle]
	if !ok {
		rooms = make(map[string]struct{})
		h.handleRooms[handle] = rooms
	}
	rooms[roomID] = struct{}{}
}

func (h *Hub) unsubscribeAll(handle string) {
	for roomID := range h.handleRooms[handle] {
		subs := h.subscriptions[roomID]
		delete(subs, handle)
		if len(subs) == 0 {
			delete(h.subscriptions, roomID)
		}
	}
	delete(h.handleRooms, handle)
}

// broadcast queues ev for every connection subscribed to roomID except the
// handle named by except.
func (h *Hub) broadcast(roomID, except string, ev models.ServerEvent) {
	for handle := range h.subscriptions[roomID] {
		if handle == except {
			continue
		}
		h.sendTo(handle, ev)
	}
}

// sendTo evicts connections that cannot keep up so per-room ordering is never
// broken by a skipped event.
func (h *Hub) sendTo(handle string, ev models.ServerEvent) {
	sink, ok := h.registry.Sink(handle)
	if !ok {
		return
	}
	if !sink.Send(ev) {
		h.logger.Warn("send buffer full, evicting connection", zap.String("handle", handle), zap.String("event", ev.Event))
		h.evicted = append(h.evicted, handle)
	}
}

func (h *Hub) drainEvictions(ctx context.Context) {
	for len(h.evicted) > 0 {
		handle := h.evicted[0]
		h.evicted = h.evicted[1:]
		if _, ok := h.registry.Info(handle); !ok {
			continue
		}
		observability.IncWSEvent(observability.KindLifecycle, "evicted")
		h.disconnect(ctx, handle)
	}
}

func (h *Hub) storeFailure(ctx context.Context, handle string, identity models.Identity, event string, err error) {
	if errors.Is(err, repositories.ErrRoomNotFound) {
		h.drop(ctx, handle, &identity, event, reasonUnknownRoom)
		return
	}
	h.logger.Error("room store failed", zap.String("handle", handle), zap.String("event", event), zap.Error(err))
	h.drop(ctx, handle, &identity, event, reasonStoreError)
}

// drop records an event that produced no broadcast. Nothing is sent back on the wire.
func (h *Hub) drop(ctx context.Context, handle string, identity *models.Identity, event, reason string) {
	var userID *string
	if identity != nil {
		id := identity.ID
		userID = &id
	}
	h.logger.Warn("event dropped",
		zap.String("handle", handle),
		zap.Stringp("identity", userID),
		zap.String("event", event),
		zap.String("reason", reason),
	)
	observability.IncDropped(event, reason)

	var requestID string
	if info, ok := h.registry.Info(handle); ok {
		requestID = info.RequestID
	}
	h.audit.Emit(ctx, telemetry.Record{
		Level:      telemetry.LevelWarn,
		Text:       fmt.Sprintf("dropped %s: %s", event, reason),
		RequestID:  requestID,
		IdentityID: userID,
		Event:      event,
		Reason:     reason,
		Handle:     handle,
	})
}
