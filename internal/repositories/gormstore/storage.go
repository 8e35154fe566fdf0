// Package gormstore is the GORM-backed storage adapter, used with SQLite.
package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

var ErrMigrationFailed = errors.New("failed to migrate")

// Storage implements every repository interface over one *gorm.DB.
type Storage struct {
	db *gorm.DB
}

// New wraps an open database.
func New(db *gorm.DB) *Storage {
	return &Storage{db: db}
}

// Migrate creates or updates the schema.
func (s *Storage) Migrate() error {
	log.Info().Msg("running gorm migrations")
	for _, model := range []any{&userRow{}, &friendshipRow{}, &friendRequestRow{}, &groupRow{}, &groupMemberRow{}, &messageRow{}} {
		if err := s.db.AutoMigrate(model); err != nil {
			log.Error().Err(err).Msgf("migration of %T failed", model)
			return ErrMigrationFailed
		}
	}
	return nil
}

// Store exposes the adapter through the repositories bundle.
func (s *Storage) Store() repositories.Store {
	return repositories.Store{
		Users:    s,
		Friends:  (*friendStore)(s),
		Messages: (*messageStore)(s),
		Groups:   (*groupStore)(s),
		Close: func() error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

// --- users ---

func (s *Storage) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	row := userRow{
		Username:      user.Username,
		UsernameLower: strings.ToLower(user.Username),
		DisplayName:   user.DisplayName,
		Avatar:        user.Avatar,
		PublicID:      user.PublicID,
		PushToken:     user.PushToken,
		PasswordHash:  user.PasswordHash,
		CreatedAt:     user.CreatedAt,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&userRow{}).Where("username_lower = ?", row.UsernameLower).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return repositories.ErrUsernameTaken
		}
		if err := tx.Model(&userRow{}).Where("public_id = ?", row.PublicID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return repositories.ErrPublicIDTaken
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return models.User{}, translateUnique(err)
	}
	return row.toModel(), nil
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("username_lower = ?", strings.ToLower(username)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, repositories.ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return row.toModel(), nil
}

func (s *Storage) GetUsersByUsernames(ctx context.Context, usernames []string) ([]models.User, error) {
	users := []models.User{}
	if len(usernames) == 0 {
		return users, nil
	}
	var rows []userRow
	if err := s.db.WithContext(ctx).Where("username IN ?", usernames).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, nil
}

func (s *Storage) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	pattern := "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(query)) + "%"
	var rows []userRow
	err := s.db.WithContext(ctx).
		Where(`username_lower LIKE ? ESCAPE '\' OR LOWER(display_name) LIKE ? ESCAPE '\' OR public_id LIKE ? ESCAPE '\'`, pattern, pattern, pattern).
		Order("username_lower ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, nil
}

func (s *Storage) UpdatePushToken(ctx context.Context, username, token string) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("username_lower = ?", strings.ToLower(username)).Update("push_token", token)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repositories.ErrUserNotFound
	}
	return nil
}

func translateUnique(err error) error {
	if errors.Is(err, repositories.ErrUsernameTaken) || errors.Is(err, repositories.ErrPublicIDTaken) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		if strings.Contains(msg, "public_id") {
			return repositories.ErrPublicIDTaken
		}
		return repositories.ErrUsernameTaken
	}
	return err
}

// --- friends ---

type friendStore Storage

func (f *friendStore) AreFriends(ctx context.Context, a, b string) (bool, error) {
	return areFriends(f.db.WithContext(ctx), a, b)
}

func (f *friendStore) ListFriends(ctx context.Context, username string) ([]string, error) {
	var rows []friendshipRow
	if err := f.db.WithContext(ctx).Where("user_a = ? OR user_b = ?", username, username).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	friends := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.UserA == username {
			friends = append(friends, row.UserB)
		} else {
			friends = append(friends, row.UserA)
		}
	}
	return friends, nil
}

func (f *friendStore) RemoveFriend(ctx context.Context, a, b string) error {
	userA, userB := repositories.CanonicalPair(a, b)
	return f.db.WithContext(ctx).Where("user_a = ? AND user_b = ?", userA, userB).Delete(&friendshipRow{}).Error
}

func (f *friendStore) SendRequest(ctx context.Context, from, to string) (models.RequestOutcome, error) {
	var outcome models.RequestOutcome
	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		friends, err := areFriends(tx, from, to)
		if err != nil {
			return err
		}
		if friends {
			outcome = models.RequestAlreadyFriends
			return nil
		}
		res := tx.Where("from_user = ? AND to_user = ?", to, from).Delete(&friendRequestRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			outcome = models.RequestMutual
			return insertFriendship(tx, from, to)
		}
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&friendRequestRow{FromUser: from, ToUser: to})
		if res.Error != nil {
			return res.Error
		}
		outcome = models.RequestCreated
		if res.RowsAffected == 0 {
			outcome = models.RequestAlreadyRequested
		}
		return nil
	})
	return outcome, err
}

func (f *friendStore) AcceptRequest(ctx context.Context, user, sender string) (bool, error) {
	var established bool
	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("from_user = ? AND to_user = ?", sender, user).Delete(&friendRequestRow{})
		if res.Error != nil {
			return res.Error
		}
		pending := res.RowsAffected > 0
		if err := tx.Where("from_user = ? AND to_user = ?", user, sender).Delete(&friendRequestRow{}).Error; err != nil {
			return err
		}
		if pending {
			established = true
			return insertFriendship(tx, user, sender)
		}
		var err error
		established, err = areFriends(tx, user, sender)
		return err
	})
	return established, err
}

func (f *friendStore) RejectRequest(ctx context.Context, user, sender string) error {
	return f.db.WithContext(ctx).Where("from_user = ? AND to_user = ?", sender, user).Delete(&friendRequestRow{}).Error
}

func (f *friendStore) ListIncomingRequests(ctx context.Context, username string) ([]string, error) {
	var rows []friendRequestRow
	if err := f.db.WithContext(ctx).Where("to_user = ?", username).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	senders := make([]string, 0, len(rows))
	for _, row := range rows {
		senders = append(senders, row.FromUser)
	}
	return senders, nil
}

func areFriends(db *gorm.DB, a, b string) (bool, error) {
	userA, userB := repositories.CanonicalPair(a, b)
	var count int64
	err := db.Model(&friendshipRow{}).Where("user_a = ? AND user_b = ?", userA, userB).Count(&count).Error
	return count > 0, err
}

func insertFriendship(tx *gorm.DB, a, b string) error {
	userA, userB := repositories.CanonicalPair(a, b)
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&friendshipRow{UserA: userA, UserB: userB}).Error
}

// --- messages ---

type messageStore Storage

func (m *messageStore) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Seen = false
	row := messageRow{
		ID:        msg.ID,
		Room:      msg.Room,
		Author:    msg.Author,
		Recipient: msg.Recipient,
		Kind:      string(msg.Kind),
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
	if err := m.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (m *messageStore) History(ctx context.Context, room string) ([]models.Message, error) {
	var rows []messageRow
	if err := m.db.WithContext(ctx).Where("room = ?", room).Order("created_at ASC, seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toModel())
	}
	return msgs, nil
}

func (m *messageStore) MarkSeen(ctx context.Context, room, viewer string) (int, error) {
	res := m.db.WithContext(ctx).Model(&messageRow{}).
		Where("room = ? AND recipient = ? AND seen = ?", room, viewer, false).
		Update("seen", true)
	return int(res.RowsAffected), res.Error
}

func (m *messageStore) GetMessage(ctx context.Context, room, id string) (models.Message, error) {
	var row messageRow
	err := m.db.WithContext(ctx).Where("room = ? AND id = ?", room, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

func (m *messageStore) DeleteMessage(ctx context.Context, room, id string) error {
	res := m.db.WithContext(ctx).Where("room = ? AND id = ?", room, id).Delete(&messageRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repositories.ErrMessageNotFound
	}
	return nil
}

func (m *messageStore) ClearRoom(ctx context.Context, room string) error {
	return m.db.WithContext(ctx).Where("room = ?", room).Delete(&messageRow{}).Error
}

func (m *messageStore) RoomSummaries(ctx context.Context, rooms []string, viewer string) (map[string]models.RoomSummary, error) {
	result := make(map[string]models.RoomSummary, len(rooms))
	db := m.db.WithContext(ctx)
	for _, room := range rooms {
		var last messageRow
		err := db.Where("room = ?", room).Order("created_at DESC, seq DESC").First(&last).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var unread int64
		if err := db.Model(&messageRow{}).Where("room = ? AND recipient = ? AND seen = ?", room, viewer, false).Count(&unread).Error; err != nil {
			return nil, err
		}
		msg := last.toModel()
		result[room] = models.RoomSummary{Room: room, LastMessage: &msg, UnreadCount: int(unread)}
	}
	return result, nil
}

// --- groups ---

type groupStore Storage

func (g *groupStore) CreateGroup(ctx context.Context, group models.Group) (models.Group, error) {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	group.Members = repositories.DedupeMembers(group.Admin, group.Members)
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&groupRow{ID: group.ID, Name: group.Name, Admin: group.Admin, CreatedAt: group.CreatedAt}).Error; err != nil {
			return err
		}
		members := make([]groupMemberRow, 0, len(group.Members))
		for i, member := range group.Members {
			members = append(members, groupMemberRow{GroupID: group.ID, Username: member, Position: i})
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return models.Group{}, err
	}
	group.IsGroup = true
	return group, nil
}

func (g *groupStore) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	var row groupRow
	err := g.db.WithContext(ctx).Where("id = ?", groupID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Group{}, repositories.ErrGroupNotFound
	}
	if err != nil {
		return models.Group{}, err
	}
	members, err := g.members(ctx, []string{groupID})
	if err != nil {
		return models.Group{}, err
	}
	return models.Group{ID: row.ID, Name: row.Name, Admin: row.Admin, CreatedAt: row.CreatedAt, Members: members[groupID], IsGroup: true}, nil
}

func (g *groupStore) ListGroupsForUser(ctx context.Context, username string) ([]models.Group, error) {
	var rows []groupRow
	err := g.db.WithContext(ctx).
		Joins("JOIN chat_group_members ON chat_group_members.group_id = chat_groups.id").
		Where("chat_group_members.username = ?", username).
		Order("chat_groups.created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	groups := make([]models.Group, 0, len(rows))
	if len(rows) == 0 {
		return groups, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	members, err := g.members(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		groups = append(groups, models.Group{ID: row.ID, Name: row.Name, Admin: row.Admin, CreatedAt: row.CreatedAt, Members: members[row.ID], IsGroup: true})
	}
	return groups, nil
}

func (g *groupStore) members(ctx context.Context, ids []string) (map[string][]string, error) {
	var rows []groupMemberRow
	if err := g.db.WithContext(ctx).Where("group_id IN ?", ids).Order("group_id, position ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := map[string][]string{}
	for _, row := range rows {
		out[row.GroupID] = append(out[row.GroupID], row.Username)
	}
	return out, nil
}

func (g *groupStore) IsMember(ctx context.Context, groupID, username string) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&groupMemberRow{}).Where("group_id = ? AND username = ?", groupID, username).Count(&count).Error
	return count > 0, err
}

func (g *groupStore) RemoveMember(ctx context.Context, groupID, username string) error {
	res := g.db.WithContext(ctx).Where("group_id = ? AND username = ?", groupID, username).Delete(&groupMemberRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repositories.ErrNotMember
	}
	return nil
}

func (g *groupStore) DeleteGroup(ctx context.Context, groupID string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&groupMemberRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", groupID).Delete(&groupRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repositories.ErrGroupNotFound
		}
		return nil
	})
}

var _ repositories.UserRepository = (*Storage)(nil)
var _ repositories.FriendRepository = (*friendStore)(nil)
var _ repositories.MessageRepository = (*messageStore)(nil)
var _ repositories.GroupRepository = (*groupStore)(nil)
