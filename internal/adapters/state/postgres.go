package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tg-forwarder/internal/domain"
	"tg-forwarder/internal/infra/db"
	"tg-forwarder/internal/infra/metrics"
)

// Postgres хранит состояние форвардера в PostgreSQL через pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.StateStore = (*Postgres)(nil)

// NewPostgres применяет миграции и открывает пул подключений.
// Миграции идут через отдельное database/sql-соединение, рабочие
// запросы — через pgx напрямую.
func NewPostgres(dsn string) (*Postgres, error) {
	mdb, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("соединение для миграций: %w", err)
	}
	if err := runMigrations(mdb, driverPostgres); err != nil {
		_ = mdb.Close()
		return nil, err
	}
	if err := mdb.Close(); err != nil {
		return nil, err
	}

	pool, err := db.Connect(dsn)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// LoadCursor возвращает сохранённый курсор.
func (p *Postgres) LoadCursor(ctx context.Context, key string) (domain.CursorSnapshot, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	snap := domain.CursorSnapshot{Key: key}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT source_id, next_id, saved_at FROM forward_cursors WHERE key = $1`, key).
		Scan(&snap.SourceID, &snap.NextID, &snap.SavedAt)
	metrics.ObserveNetworkRequest("postgres", "cursor_load", "forward_cursors", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CursorSnapshot{}, domain.ErrCursorNotFound
	}
	if err != nil {
		return domain.CursorSnapshot{}, err
	}
	return snap, nil
}

// SaveCursor сохраняет позицию, перезаписывая прежнюю.
func (p *Postgres) SaveCursor(ctx context.Context, snap domain.CursorSnapshot) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO forward_cursors (key, source_id, next_id, saved_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET source_id = EXCLUDED.source_id, next_id = EXCLUDED.next_id, saved_at = EXCLUDED.saved_at
`, snap.Key, snap.SourceID, snap.NextID, snap.SavedAt)
	metrics.ObserveNetworkRequest("postgres", "cursor_save", "forward_cursors", start, err)
	return err
}

// DeliveredTargets возвращает отмеченные места назначения сообщения.
func (p *Postgres) DeliveredTargets(ctx context.Context, key string, msgID int) ([]int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT target_id FROM delivery_marks WHERE key = $1 AND msg_id = $2`, key, msgID)
	metrics.ObserveNetworkRequest("postgres", "marks_list", "delivery_marks", start, err)
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
func (p *Postgres) MarkDelivered(ctx context.Context, key string, msgID int, targetID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO delivery_marks (key, msg_id, target_id)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING
`, key, msgID, targetID)
	metrics.ObserveNetworkRequest("postgres", "marks_insert", "delivery_marks", start, err)
	return err
}

// ClearDelivered снимает отметки сообщения.
func (p *Postgres) ClearDelivered(ctx context.Context, key string, msgID int) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM delivery_marks WHERE key = $1 AND msg_id = $2`, key, msgID)
	metrics.ObserveNetworkRequest("postgres", "marks_clear", "delivery_marks", start, err)
	return err
}

// LoadSessionBlob читает сессию MTProto.
func (p *Postgres) LoadSessionBlob(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	var data []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, name).Scan(&data)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (p *Postgres) StoreSessionBlob(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	tmp := make([]byte, len(data))
	copy(tmp, data)

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, tmp)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_store", "mtproto_sessions", start, err)
	return err
}

// Close закрывает пул.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
