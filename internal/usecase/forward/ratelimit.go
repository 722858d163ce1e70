package forward

import (
	"context"
	"sync"
	"time"

	"github.com/gotd/td/clock"

	"tg-forwarder/internal/domain"
)

// RateLimiter выдерживает минимальный интервал между физическими
// отправками и поглощает серверные паузы. Фиксированный интервал
// сглаживает базовую нагрузку; cooldown впитывает требования сервера
// целиком, так что шквал flood wait не приводит к преждевременным
// повторам. Верхний предел паузы не ограничивается.
type RateLimiter struct {
	clk      clock.Clock
	interval time.Duration

	mu    sync.Mutex
	state domain.RateState
}

// NewRateLimiter создаёт ограничитель с заданным интервалом между отправками.
func NewRateLimiter(clk clock.Clock, interval time.Duration) *RateLimiter {
	return &RateLimiter{clk: clk, interval: interval}
}

// BeforeSend приостанавливает вызвавшего до ближайшего разрешённого
// момента отправки: max(last_send_at + interval, cooldown_until).
// Ожидание прерывается отменой контекста.
func (l *RateLimiter) BeforeSend(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := l.pendingWait()
		if wait <= 0 {
			return nil
		}
		t := l.clk.Timer(wait)
		select {
		case <-t.C():
			// cooldown мог вырасти, пока ждали: перепроверяем
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

func (l *RateLimiter) pendingWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	allowed := l.state.LastSendAt.Add(l.interval)
	if l.state.CooldownUntil.After(allowed) {
		allowed = l.state.CooldownUntil
	}
	return allowed.Sub(l.clk.Now())
}

// RecordSend фиксирует момент физической отправки.
func (l *RateLimiter) RecordSend() {
	l.mu.Lock()
	l.state.LastSendAt = l.clk.Now()
	l.mu.Unlock()
}

// RecordCooldown регистрирует серверную паузу. Уже назначенная более
// длинная пауза остаётся в силе: cooldown никогда не сокращается.
func (l *RateLimiter) RecordCooldown(wait time.Duration) {
	l.mu.Lock()
	until := l.clk.Now().Add(wait)
	if until.After(l.state.CooldownUntil) {
		l.state.CooldownUntil = until
	}
	l.mu.Unlock()
}

// Snapshot возвращает копию состояния для наблюдения.
func (l *RateLimiter) Snapshot() domain.RateState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
