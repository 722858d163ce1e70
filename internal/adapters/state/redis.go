package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"tg-forwarder/internal/domain"
)

// Redis хранит состояние форвардера в Redis. Подходит, когда рядом уже
// есть инстанс и не хочется заводить файлы или базу.
type Redis struct {
	client *redis.Client
}

var _ domain.StateStore = (*Redis)(nil)

// NewRedis создаёт хранилище поверх готового клиента.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func cursorKey(key string) string { return "forwarder:cursor:" + key }

func marksKey(key string, msgID int) string {
	return fmt.Sprintf("forwarder:marks:%s:%d", key, msgID)
}

func sessionKey(name string) string {
	if name == "" {
		name = "default"
	}
	return "forwarder:session:" + name
}

// LoadCursor возвращает сохранённый курсор.
func (r *Redis) LoadCursor(ctx context.Context, key string) (domain.CursorSnapshot, error) {
	raw, err := r.client.Get(ctx, cursorKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CursorSnapshot{}, domain.ErrCursorNotFound
	}
	if err != nil {
		return domain.CursorSnapshot{}, err
	}
	var snap domain.CursorSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.CursorSnapshot{}, fmt.Errorf("разбор курсора: %w", err)
	}
	return snap, nil
}

// SaveCursor сохраняет позицию без срока жизни: курсор должен
// переживать любые паузы между запусками.
func (r *Redis) SaveCursor(ctx context.Context, snap domain.CursorSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, cursorKey(snap.Key), raw, 0).Err()
}

// DeliveredTargets возвращает отмеченные места назначения сообщения.
func (r *Redis) DeliveredTargets(ctx context.Context, key string, msgID int) ([]int64, error) {
	members, err := r.client.SMembers(ctx, marksKey(key, msgID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("разбор отметки %q: %w", m, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// MarkDelivered отмечает подтверждённую доставку.
func (r *Redis) MarkDelivered(ctx context.Context, key string, msgID int, targetID int64) error {
	return r.client.SAdd(ctx, marksKey(key, msgID), strconv.FormatInt(targetID, 10)).Err()
}

// ClearDelivered снимает отметки сообщения.
func (r *Redis) ClearDelivered(ctx context.Context, key string, msgID int) error {
	return r.client.Del(ctx, marksKey(key, msgID)).Err()
}

// LoadSessionBlob читает сессию MTProto.
func (r *Redis) LoadSessionBlob(ctx context.Context, name string) ([]byte, error) {
	data, err := r.client.Get(ctx, sessionKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	return data, err
}

// StoreSessionBlob сохраняет сессию MTProto.
func (r *Redis) StoreSessionBlob(ctx context.Context, name string, data []byte) error {
	return r.client.Set(ctx, sessionKey(name), data, 0).Err()
}

// Close закрывает клиент.
func (r *Redis) Close() error { return r.client.Close() }
