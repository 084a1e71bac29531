package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/deemusic/internal/shared"
	"github.com/desertthunder/deemusic/internal/store"
)

// KVRepository implements [store.KV] over the session_kv table.
//
// Reads never fail: query errors are logged and reported as an absent key.
type KVRepository struct {
	db     *sql.DB
	logger *log.Logger
}

var _ store.KV = (*KVRepository)(nil)

// NewKVRepository creates a new [KVRepository] with the given database connection.
func NewKVRepository(db *sql.DB, logger *log.Logger) *KVRepository {
	return &KVRepository{db: db, logger: shared.WithLogger(logger, "component", "kv")}
}

// Get returns the value stored under key.
func (r *KVRepository) Get(key string) (string, bool) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM session_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		r.logger.Warn("failed to read key", "key", key, "error", err)
		return "", false
	}
	return value, true
}

// Set upserts value under key.
func (r *KVRepository) Set(key, value string) error {
	query := `
		INSERT INTO session_kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := r.db.Exec(query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes every given key in one statement. Missing keys are not an error.
func (r *KVRepository) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	if _, err := r.db.Exec(`DELETE FROM session_kv WHERE key IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// Keys lists stored keys in lexical order.
func (r *KVRepository) Keys() ([]string, error) {
	rows, err := r.db.Query(`SELECT key FROM session_kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
