package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tg-forwarder/internal/domain"
)

// SQLite хранит состояние во встроенной базе: один файл, переживает
// рестарты и не требует внешних сервисов.
type SQLite struct {
	db *sql.DB
}

var _ domain.StateStore = (*SQLite)(nil)

// NewSQLite открывает базу и применяет миграции.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("каталог базы: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if err := runMigrations(db, driverSQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// LoadCursor возвращает сохранённый курсор.
func (s *SQLite) LoadCursor(ctx context.Context, key string) (domain.CursorSnapshot, error) {
	snap := domain.CursorSnapshot{Key: key}
	var savedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT source_id, next_id, saved_at FROM forward_cursors WHERE key = ?`, key).
		Scan(&snap.SourceID, &snap.NextID, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CursorSnapshot{}, domain.ErrCursorNotFound
	}
	if err != nil {
		return domain.CursorSnapshot{}, err
	}
	snap.SavedAt = time.Unix(savedAt, 0)
	return snap, nil
}

// SaveCursor сохраняет позицию, перезаписывая прежнюю.
func (s *SQLite) SaveCursor(ctx context.Context, snap domain.CursorSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO forward_cursors (key, source_id, next_id, saved_at)
VALUES (?, ?, ?, ?)`, snap.Key, snap.SourceID, snap.NextID, snap.SavedAt.Unix())
	return err
}

// DeliveredTargets возвращает отмеченные места назначения сообщения.
func (s *SQLite) DeliveredTargets(ctx context.Context, key string, msgID int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT target_id FROM delivery_marks WHERE key = ? AND msg_id = ?`, key, msgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MarkDelivered отмечает подтверждённую доставку.
func (s *SQLite) MarkDelivered(ctx context.Context, key string, msgID int, targetID int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO delivery_marks (key, msg_id, target_id, marked_at)
VALUES (?, ?, ?, ?)`, key, msgID, targetID, time.Now().Unix())
	return err
}

// ClearDelivered снимает отметки сообщения.
func (s *SQLite) ClearDelivered(ctx context.Context, key string, msgID int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM delivery_marks WHERE key = ? AND msg_id = ?`, key, msgID)
	return err
}

// LoadSessionBlob читает сессию MTProto.
func (s *SQLite) LoadSessionBlob(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		name = "default"
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM mtproto_sessions WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	clone := make([]byte, len(data))
	copy(clone, data)
	return clone, nil
}

// StoreSessionBlob сохраняет сессию MTProto.
func (s *SQLite) StoreSessionBlob(ctx context.Context, name string, data []byte) error {
	if name == "" {
		name = "default"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO mtproto_sessions (name, data, updated_at)
VALUES (?, ?, ?)`, name, data, time.Now().Unix())
	return err
}

// Close закрывает базу.
func (s *SQLite) Close() error { return s.db.Close() }
