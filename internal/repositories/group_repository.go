package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// CreateGroup creates a group and its members atomically.
func (r *GroupRepo) CreateGroup(ctx context.Context, group models.Group) (created models.Group, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Group{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO groups (id, name, admin, created_at) VALUES ($1, $2, $3, $4)`,
		group.ID, group.Name, group.Admin, group.CreatedAt); err != nil {
		return models.Group{}, err
	}

	// ensure admin present and dedupe members
	group.Members = DedupeMembers(group.Admin, group.Members)
	for _, member := range group.Members {
		if _, err = tx.ExecContext(ctx, `INSERT INTO group_members (group_id, username) VALUES ($1, $2)`, group.ID, member); err != nil {
			return models.Group{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Group{}, err
	}
	group.IsGroup = true
	return group, nil
}

// GetGroup fetches a single group with its members.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group, `SELECT id, name, admin, created_at FROM groups WHERE id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	if err != nil {
		return models.Group{}, err
	}
	if err := r.db.SelectContext(ctx, &group.Members, `SELECT username FROM group_members WHERE group_id=$1 ORDER BY joined_at ASC, username ASC`, groupID); err != nil {
		return models.Group{}, err
	}
	group.IsGroup = true
	return group, nil
}

// ListGroupsForUser returns groups that include the user.
func (r *GroupRepo) ListGroupsForUser(ctx context.Context, username string) ([]models.Group, error) {
	groups := []models.Group{}
	err := r.db.SelectContext(ctx, &groups, `SELECT g.id, g.name, g.admin, g.created_at FROM groups g
        INNER JOIN group_members gm ON gm.group_id = g.id WHERE gm.username=$1 ORDER BY g.created_at DESC`, username)
	if err != nil || len(groups) == 0 {
		return groups, err
	}

	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT group_id, username FROM group_members
        WHERE group_id = ANY($1) ORDER BY joined_at ASC, username ASC`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	members := map[string][]string{}
	for rows.Next() {
		var groupID, member string
		if err := rows.Scan(&groupID, &member); err != nil {
			return nil, err
		}
		members[groupID] = append(members[groupID], member)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range groups {
		groups[i].Members = members[groups[i].ID]
		groups[i].IsGroup = true
	}
	return groups, nil
}

// IsMember checks membership.
func (r *GroupRepo) IsMember(ctx context.Context, groupID, username string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND username=$2)`, groupID, username)
	return exists, err
}

// RemoveMember drops username from the group.
func (r *GroupRepo) RemoveMember(ctx context.Context, groupID, username string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1 AND username=$2`, groupID, username)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotMember
	}
	return nil
}

// DeleteGroup removes the group; memberships cascade.
func (r *GroupRepo) DeleteGroup(ctx context.Context, groupID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id=$1`, groupID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrGroupNotFound
	}
	return nil
}
