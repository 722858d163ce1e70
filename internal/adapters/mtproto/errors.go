package mtproto

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/tgerr"

	"tg-forwarder/internal/domain"
)

// Типы ошибок RPC, после которых повторять запрос бессмысленно: нет прав,
// канал недоступен или сессия отозвана.
var fatalRPCTypes = map[string]bool{
	"CHANNEL_PRIVATE":        true,
	"CHANNEL_INVALID":        true,
	"CHAT_ADMIN_REQUIRED":    true,
	"CHAT_WRITE_FORBIDDEN":   true,
	"USERNAME_NOT_OCCUPIED":  true,
	"USERNAME_INVALID":       true,
	"PEER_ID_INVALID":        true,
	"USER_BANNED_IN_CHANNEL": true,
	"AUTH_KEY_UNREGISTERED":  true,
	"AUTH_KEY_INVALID":       true,
	"SESSION_REVOKED":        true,
	"SESSION_EXPIRED":        true,
}

// mapRPCError переводит ошибки gotd в доменную классификацию. Контекстные
// ошибки проходят без обёртки, чтобы отмена останавливала запуск, а не
// уходила в повторы.
func mapRPCError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &domain.FloodWaitError{Wait: wait}
	}
	if rpc, ok := tgerr.AsType(err, "SLOWMODE_WAIT"); ok {
		return &domain.FloodWaitError{Wait: time.Duration(rpc.Argument) * time.Second}
	}

	var rpc *tgerr.Error
	if errors.As(err, &rpc) {
		switch {
		case fatalRPCTypes[rpc.Type]:
			return &domain.FatalError{Err: err}
		case rpc.Code == 420:
			// Незнакомое ограничение частоты без указания паузы.
			return &domain.TransientError{Err: err}
		case rpc.Code >= 500:
			return &domain.TransientError{Err: err}
		case rpc.Code >= 400:
			return &domain.FatalError{Err: err}
		default:
			return &domain.TransientError{Err: err}
		}
	}

	// Сетевые и прочие неопознанные сбои: пусть решает предел повторов.
	return &domain.TransientError{Err: err}
}
