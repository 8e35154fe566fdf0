package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

// FriendRepo is a sqlx implementation of FriendRepository. Every mutation
// runs in a transaction holding an advisory lock on the unordered pair, so
// concurrent writers on other instances serialize on the same key; the
// primary keys on both tables back the uniqueness invariants.
type FriendRepo struct {
	db *sqlx.DB
}

// NewFriendRepo constructs a FriendRepo.
func NewFriendRepo(db *sqlx.DB) *FriendRepo {
	return &FriendRepo{db: db}
}

// AreFriends checks for an edge in canonical orientation.
func (r *FriendRepo) AreFriends(ctx context.Context, a, b string) (bool, error) {
	return areFriends(ctx, r.db, a, b)
}

// ListFriends returns the other side of every edge touching username.
func (r *FriendRepo) ListFriends(ctx context.Context, username string) ([]string, error) {
	var friends []string
	err := r.db.SelectContext(ctx, &friends, `SELECT CASE WHEN user_a=$1 THEN user_b ELSE user_a END
        FROM friendships WHERE user_a=$1 OR user_b=$1 ORDER BY created_at ASC`, username)
	return friends, err
}

// RemoveFriend deletes the edge regardless of argument order.
func (r *FriendRepo) RemoveFriend(ctx context.Context, a, b string) error {
	userA, userB := CanonicalPair(a, b)
	_, err := r.db.ExecContext(ctx, `DELETE FROM friendships WHERE user_a=$1 AND user_b=$2`, userA, userB)
	return err
}

// SendRequest opens a pending request from -> to. A pending mirror request is
// resolved into a friendship instead.
func (r *FriendRepo) SendRequest(ctx context.Context, from, to string) (outcome models.RequestOutcome, err error) {
	tx, err := r.beginPair(ctx, from, to)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	friends, err := areFriends(ctx, tx, from, to)
	if err != nil {
		return "", err
	}
	if friends {
		outcome = models.RequestAlreadyFriends
		return outcome, tx.Commit()
	}

	mirrored, err := deleteRequest(ctx, tx, to, from)
	if err != nil {
		return "", err
	}
	if mirrored {
		if err = insertFriendship(ctx, tx, from, to); err != nil {
			return "", err
		}
		if err = tx.Commit(); err != nil {
			return "", err
		}
		return models.RequestMutual, nil
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO friend_requests (from_user, to_user) VALUES ($1, $2)
        ON CONFLICT (from_user, to_user) DO NOTHING`, from, to)
	if err != nil {
		return "", err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if err = tx.Commit(); err != nil {
		return "", err
	}
	if count == 0 {
		return models.RequestAlreadyRequested, nil
	}
	return models.RequestCreated, nil
}

// AcceptRequest consumes the pending request sender -> user and creates the
// edge. Without a pending request it only reports the current state, which
// makes retries and races with RejectRequest safe.
func (r *FriendRepo) AcceptRequest(ctx context.Context, user, sender string) (established bool, err error) {
	tx, err := r.beginPair(ctx, user, sender)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	pending, err := deleteRequest(ctx, tx, sender, user)
	if err != nil {
		return false, err
	}
	if _, err = deleteRequest(ctx, tx, user, sender); err != nil {
		return false, err
	}
	if pending {
		if err = insertFriendship(ctx, tx, user, sender); err != nil {
			return false, err
		}
		established = true
	} else if established, err = areFriends(ctx, tx, user, sender); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return established, nil
}

// RejectRequest drops the pending request sender -> user.
func (r *FriendRepo) RejectRequest(ctx context.Context, user, sender string) (err error) {
	tx, err := r.beginPair(ctx, user, sender)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = deleteRequest(ctx, tx, sender, user); err != nil {
		return err
	}
	return tx.Commit()
}

// ListIncomingRequests returns senders of requests pending for username, oldest first.
func (r *FriendRepo) ListIncomingRequests(ctx context.Context, username string) ([]string, error) {
	var senders []string
	err := r.db.SelectContext(ctx, &senders, `SELECT from_user FROM friend_requests WHERE to_user=$1 ORDER BY created_at ASC`, username)
	return senders, err
}

func (r *FriendRepo) beginPair(ctx context.Context, a, b string) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, PairKey(a, b)); err != nil {
		tx.Rollback()
		return nil, err
	}
	return tx, nil
}

func areFriends(ctx context.Context, q sqlx.QueryerContext, a, b string) (bool, error) {
	userA, userB := CanonicalPair(a, b)
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS(SELECT 1 FROM friendships WHERE user_a=$1 AND user_b=$2)`, userA, userB)
	return exists, err
}

func insertFriendship(ctx context.Context, tx *sqlx.Tx, a, b string) error {
	userA, userB := CanonicalPair(a, b)
	_, err := tx.ExecContext(ctx, `INSERT INTO friendships (user_a, user_b) VALUES ($1, $2)
        ON CONFLICT (user_a, user_b) DO NOTHING`, userA, userB)
	return err
}

func deleteRequest(ctx context.Context, tx *sqlx.Tx, from, to string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM friend_requests WHERE from_user=$1 AND to_user=$2`, from, to)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
