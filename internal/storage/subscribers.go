package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"outagebot/internal/outage"
	logx "outagebot/pkg/logx"
)

// UpsertUser registers u or refreshes its profile fields. Interest groups are
// left untouched.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	if err := s.ready(); err != nil {
		return err
	}
	if u.UniqueID == 0 {
		return errors.New("user unique_id is required")
	}
	now := s.now().UnixNano()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(unique_id, username, is_bot, is_premium, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(unique_id) DO UPDATE SET
		   username = excluded.username,
		   is_bot = excluded.is_bot,
		   is_premium = excluded.is_premium,
		   updated_at = excluded.updated_at`,
		u.UniqueID, nullStr(u.Username), u.IsBot, u.IsPremium, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.UniqueID, err)
	}
	return nil
}

// UpsertChat registers c. The registration time of a known chat is kept.
func (s *Store) UpsertChat(ctx context.Context, c Chat) error {
	if err := s.ready(); err != nil {
		return err
	}
	if c.UniqueID == 0 {
		return errors.New("chat unique_id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(unique_id, user_id, username, type, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(unique_id) DO UPDATE SET
		   user_id = excluded.user_id,
		   username = excluded.username,
		   type = excluded.type`,
		c.UniqueID, c.UserID, nullStr(c.Username), c.Type, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert chat %d: %w", c.UniqueID, err)
	}
	return nil
}

// User returns the registered user or ErrNotFound.
func (s *Store) User(ctx context.Context, uniqueID int64) (User, error) {
	if err := s.ready(); err != nil {
		return User{}, err
	}
	var (
		u         User
		username  sql.NullString
		groupsRaw string
		created   int64
		updated   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT unique_id, username, is_bot, is_premium, interested_groups, created_at, updated_at
		 FROM users WHERE unique_id = ?`, uniqueID,
	).Scan(&u.UniqueID, &username, &u.IsBot, &u.IsPremium, &groupsRaw, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", uniqueID, err)
	}
	u.Username = username.String
	u.CreatedAt = fromNanos(created)
	u.UpdatedAt = fromNanos(updated)
	if u.InterestGroups, err = decodeGroups(groupsRaw); err != nil {
		return User{}, fmt.Errorf("user %d: %w", uniqueID, err)
	}
	return u, nil
}

// SetInterestGroups replaces the interest groups of a registered user.
func (s *Store) SetInterestGroups(ctx context.Context, uniqueID int64, groups []string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if groups == nil {
		groups = []string{}
	}
	b, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encode groups: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET interested_groups = ?, updated_at = ? WHERE unique_id = ?`,
		string(b), s.now().UnixNano(), uniqueID,
	)
	if err != nil {
		return fmt.Errorf("set interest groups %d: %w", uniqueID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AllSubscribers lists every user in registration order with its chats,
// most recently registered first.
func (s *Store) AllSubscribers(ctx context.Context) ([]outage.Subscriber, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.unique_id, u.username, u.interested_groups, c.unique_id, c.created_at
		 FROM users u
		 LEFT JOIN chats c ON c.user_id = u.unique_id
		 ORDER BY u.created_at ASC, u.unique_id ASC, c.created_at DESC, c.unique_id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var out []outage.Subscriber
	for rows.Next() {
		var (
			userID    int64
			username  sql.NullString
			groupsRaw string
			chatID    sql.NullInt64
			chatAt    sql.NullInt64
		)
		if err := rows.Scan(&userID, &username, &groupsRaw, &chatID, &chatAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		if n := len(out); n == 0 || out[n-1].ID != userID {
			groups, err := decodeGroups(groupsRaw)
			if err != nil {
				s.log.Warn("bad interest groups, treating as none", logx.Int64("user_id", userID), logx.Err(err))
			}
			out = append(out, outage.Subscriber{ID: userID, Username: username.String, InterestGroups: groups})
		}
		if chatID.Valid {
			cur := &out[len(out)-1]
			cur.Targets = append(cur.Targets, outage.Target{ChatID: chatID.Int64, RegisteredAt: fromNanos(chatAt.Int64)})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return out, nil
}

// RemoveDeliveryTarget forgets the chat behind t. Removing an unknown chat is not an error.
func (s *Store) RemoveDeliveryTarget(ctx context.Context, t outage.Target) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE unique_id = ?`, t.ChatID); err != nil {
		return fmt.Errorf("remove chat %d: %w", t.ChatID, err)
	}
	return nil
}

func decodeGroups(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var groups []string
	if err := json.Unmarshal([]byte(raw), &groups); err != nil {
		return nil, fmt.Errorf("decode interest groups: %w", err)
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return groups, nil
}
