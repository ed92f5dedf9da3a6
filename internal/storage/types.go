package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotInitialized = errors.New("store is not initialized")
)

// Config configures storage.
//
// Driver is "sqlite" (the default when empty).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means the driver default
}

// User is a registered Telegram user.
type User struct {
	UniqueID       int64
	Username       string
	IsBot          bool
	IsPremium      bool
	InterestGroups []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Chat is a delivery target owned by a user.
type Chat struct {
	UniqueID  int64
	UserID    int64
	Username  string
	Type      string
	CreatedAt time.Time
}
