package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"messenger-service/internal/identity"
	"messenger-service/internal/models"
)

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) Notify(ctx context.Context, n models.PushNotification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type IdentityMock struct {
	mock.Mock
}

func (m *IdentityMock) Register(ctx context.Context, in identity.RegisterInput) (models.User, error) {
	args := m.Called(ctx, in)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *IdentityMock) Login(ctx context.Context, username, password string) (models.User, error) {
	args := m.Called(ctx, username, password)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *IdentityMock) Search(ctx context.Context, query string) ([]models.User, error) {
	args := m.Called(ctx, query)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *IdentityMock) UpdatePushToken(ctx context.Context, username, token string) error {
	args := m.Called(ctx, username, token)
	return args.Error(0)
}

type TokenIssuerMock struct {
	mock.Mock
}

func (m *TokenIssuerMock) Issue(username string) (string, error) {
	args := m.Called(username)
	return args.String(0), args.Error(1)
}

type PresenceMock struct {
	mock.Mock
}

func (m *PresenceMock) OnlineAnywhere(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

type RelationshipsMock struct {
	mock.Mock
}

func (m *RelationshipsMock) SendRequest(ctx context.Context, from, to string) (models.RequestOutcome, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(models.RequestOutcome), args.Error(1)
}

func (m *RelationshipsMock) AcceptRequest(ctx context.Context, user, sender string) (bool, error) {
	args := m.Called(ctx, user, sender)
	return args.Bool(0), args.Error(1)
}

func (m *RelationshipsMock) RejectRequest(ctx context.Context, user, sender string) error {
	args := m.Called(ctx, user, sender)
	return args.Error(0)
}

func (m *RelationshipsMock) RemoveFriend(ctx context.Context, user, other string) error {
	args := m.Called(ctx, user, other)
	return args.Error(0)
}

func (m *RelationshipsMock) Friends(ctx context.Context, username string) ([]models.FriendSummary, error) {
	args := m.Called(ctx, username)
	var list []models.FriendSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.FriendSummary)
	}
	return list, args.Error(1)
}

func (m *RelationshipsMock) IncomingRequests(ctx context.Context, username string) ([]models.PublicUser, error) {
	args := m.Called(ctx, username)
	var list []models.PublicUser
	if val := args.Get(0); val != nil {
		list = val.([]models.PublicUser)
	}
	return list, args.Error(1)
}

type GroupsMock struct {
	mock.Mock
}

func (m *GroupsMock) CreateGroup(ctx context.Context, name, admin string, members []string) (models.Group, error) {
	args := m.Called(ctx, name, admin, members)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

func (m *GroupsMock) LeaveGroup(ctx context.Context, groupID, username string) error {
	args := m.Called(ctx, groupID, username)
	return args.Error(0)
}

func (m *GroupsMock) DeleteGroup(ctx context.Context, groupID, requester string) error {
	args := m.Called(ctx, groupID, requester)
	return args.Error(0)
}

func (m *GroupsMock) Groups(ctx context.Context, username string) ([]models.Group, error) {
	args := m.Called(ctx, username)
	var groups []models.Group
	if val := args.Get(0); val != nil {
		groups = val.([]models.Group)
	}
	return groups, args.Error(1)
}

type MessagesMock struct {
	mock.Mock
}

func (m *MessagesMock) History(ctx context.Context, room string) ([]models.Message, error) {
	args := m.Called(ctx, room)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessagesMock) ClearRoom(ctx context.Context, room string) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}
