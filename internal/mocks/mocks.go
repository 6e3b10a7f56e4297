package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) Join(ctx context.Context, roomID string, identity models.Identity) (repositories.JoinResult, error) {
	args := m.Called(ctx, roomID, identity)
	var res repositories.JoinResult
	if val := args.Get(0); val != nil {
		res = val.(repositories.JoinResult)
	}
	return res, args.Error(1)
}

func (m *RoomRepositoryMock) Append(ctx context.Context, roomID string, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, roomID, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *RoomRepositoryMock) Leave(ctx context.Context, identityID string) ([]string, error) {
	args := m.Called(ctx, identityID)
	var rooms []string
	if val := args.Get(0); val != nil {
		rooms = val.([]string)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepositoryMock) MarkRead(ctx context.Context, roomID string, messageIDs []string) ([]string, error) {
	args := m.Called(ctx, roomID, messageIDs)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *RoomRepositoryMock) Participants(ctx context.Context, roomID string) ([]models.Identity, error) {
	args := m.Called(ctx, roomID)
	var list []models.Identity
	if val := args.Get(0); val != nil {
		list = val.([]models.Identity)
	}
	return list, args.Error(1)
}

func (m *RoomRepositoryMock) ListRooms(ctx context.Context) ([]models.RoomSummary, error) {
	args := m.Called(ctx)
	var list []models.RoomSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.RoomSummary)
	}
	return list, args.Error(1)
}

func (m *RoomRepositoryMock) GetMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	args := m.Called(ctx, roomID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *RoomRepositoryMock) Reset(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type PresenceRepositoryMock struct {
	mock.Mock
}

func (m *PresenceRepositoryMock) SetOnline(ctx context.Context, identity models.Identity) error {
	args := m.Called(ctx, identity)
	return args.Error(0)
}

func (m *PresenceRepositoryMock) SetOffline(ctx context.Context, identity models.Identity) error {
	args := m.Called(ctx, identity)
	return args.Error(0)
}

func (m *PresenceRepositoryMock) Snapshot(ctx context.Context) ([]models.PresenceEntry, error) {
	args := m.Called(ctx)
	var list []models.PresenceEntry
	if val := args.Get(0); val != nil {
		list = val.([]models.PresenceEntry)
	}
	return list, args.Error(1)
}

func (m *PresenceRepositoryMock) Reset(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// PublisherMock stands in for the AMQP publisher in audit and lifecycle event tests.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *PublisherMock) Close() error {
	return m.Called().Error(0)
}
