package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// MinimizedKey is the fixed preference key for the chat panel's minimized flag.
const MinimizedKey = "chatMinimized"

// Prefs is a key-value preference store backed by the preferences table.
type Prefs struct {
	db *sql.DB
}

// NewPrefs wraps an opened database.
func NewPrefs(db *sql.DB) *Prefs {
	return &Prefs{db: db}
}

// Get returns the stored value for key and whether it was present.
func (p *Prefs) Get(key string) (string, bool, error) {
	var value string
	err := p.db.QueryRow("SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query preference %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (p *Prefs) Set(key, value string) error {
	_, err := p.db.Exec(
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("store preference %q: %w", key, err)
	}
	return nil
}

// GetMinimized reports the persisted minimized flag. Missing, unreadable or
// malformed values read as false.
func (p *Prefs) GetMinimized() bool {
	v, ok, err := p.Get(MinimizedKey)
	if err != nil || !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// SetMinimized persists the minimized flag.
func (p *Prefs) SetMinimized(minimized bool) error {
	return p.Set(MinimizedKey, strconv.FormatBool(minimized))
}
