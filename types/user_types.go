package types

import "time"

type User struct {
	UserID      int64
	Whitelisted bool
	CreatedAt   time.Time
}

type LogEntry struct {
	ID        int64
	Timestamp time.Time
	Level     string
	Message   string
}

type UserStore interface {
	AddUser(userID int64, whitelisted bool) error
	IsWhitelisted(userID int64) (bool, error)

	GetSetting(userID int64, key string) (string, bool, error)
	SetSetting(userID int64, key, value string) error
	DeleteSetting(userID int64, key string) error

	LogAction(level, message string) error
	PurgeLogs(olderThan time.Time) (int64, error)

	Ping() error
}
