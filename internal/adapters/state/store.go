package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-forwarder/internal/domain"
)

// Config описывает выбранный бекенд состояния.
type Config struct {
	Driver     string
	Dir        string
	SQLitePath string
	PGDSN      string
	RedisAddr  string
}

// Open создаёт бекенд состояния по настройкам.
func Open(cfg Config) (domain.StateStore, error) {
	switch cfg.Driver {
	case "file":
		return NewFile(cfg.Dir)
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	case "postgres":
		return NewPostgres(cfg.PGDSN)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return NewRedis(client), nil
	default:
		return nil, fmt.Errorf("неизвестный драйвер состояния: %q", cfg.Driver)
	}
}
