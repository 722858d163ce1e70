package forward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/clock"
)

// testClock — управляемые часы: таймеры срабатывают только при явном
// продвижении времени.
type testClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*testTimer
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Timer(d time.Duration) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &testTimer{ch: make(chan time.Time, 1), due: c.now.Add(d)}
	if d <= 0 {
		t.fired = true
		t.ch <- c.now
		return t
	}
	c.timers = append(c.timers, t)
	return t
}

func (c *testClock) Ticker(d time.Duration) clock.Ticker {
	return &testTicker{ch: make(chan time.Time)}
}

// Advance двигает время вперёд и освобождает созревшие таймеры.
func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		if !t.fired && !t.due.After(c.now) {
			t.fired = true
			t.ch <- c.now
		}
	}
}

func (c *testClock) waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired {
			n++
		}
	}
	return n
}

type testTimer struct {
	ch    chan time.Time
	due   time.Time
	fired bool
}

func (t *testTimer) C() <-chan time.Time   { return t.ch }
func (t *testTimer) Reset(d time.Duration) {}
func (t *testTimer) Stop() bool            { return true }

type testTicker struct{ ch chan time.Time }

func (t *testTicker) C() <-chan time.Time   { return t.ch }
func (t *testTicker) Reset(d time.Duration) {}
func (t *testTicker) Stop()                 {}

// waitTimers ждёт, пока на часах появится want ожидающих таймеров.
func waitTimers(t *testing.T, clk *testClock, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for clk.waiting() < want {
		if time.Now().After(deadline) {
			t.Fatalf("не дождались %d ожидающих таймеров", want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRateLimiterFirstSendImmediate(t *testing.T) {
	l := NewRateLimiter(newTestClock(), time.Minute)
	if err := l.BeforeSend(context.Background()); err != nil {
		t.Fatalf("первая отправка не должна ждать: %v", err)
	}
}

func TestRateLimiterHonorsInterval(t *testing.T) {
	clk := newTestClock()
	l := NewRateLimiter(clk, 10*time.Second)
	l.RecordSend()

	done := make(chan error, 1)
	go func() { done <- l.BeforeSend(context.Background()) }()
	waitTimers(t, clk, 1)
	select {
	case <-done:
		t.Fatal("BeforeSend вернулся до истечения интервала")
	default:
	}

	clk.Advance(10 * time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("BeforeSend не вернулся после истечения интервала")
	}
}

func TestRateLimiterCooldownDominates(t *testing.T) {
	clk := newTestClock()
	l := NewRateLimiter(clk, time.Second)
	l.RecordSend()
	l.RecordCooldown(30 * time.Second)

	done := make(chan error, 1)
	go func() { done <- l.BeforeSend(context.Background()) }()
	waitTimers(t, clk, 1)

	clk.Advance(time.Second)
	select {
	case <-done:
		t.Fatal("интервал прошёл, но cooldown ещё действует")
	case <-time.After(20 * time.Millisecond):
	}

	clk.Advance(29 * time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("BeforeSend не вернулся после конца cooldown")
	}
}

func TestRateLimiterCooldownNeverShrinks(t *testing.T) {
	clk := newTestClock()
	l := NewRateLimiter(clk, 0)
	l.RecordCooldown(30 * time.Second)
	first := l.Snapshot().CooldownUntil

	l.RecordCooldown(5 * time.Second)
	if !l.Snapshot().CooldownUntil.Equal(first) {
		t.Fatal("короткий cooldown не должен сокращать уже назначенный")
	}
	l.RecordCooldown(60 * time.Second)
	if !l.Snapshot().CooldownUntil.After(first) {
		t.Fatal("более длинный cooldown должен продлить паузу")
	}
}

func TestRateLimiterCancel(t *testing.T) {
	clk := newTestClock()
	l := NewRateLimiter(clk, time.Hour)
	l.RecordSend()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.BeforeSend(ctx) }()
	waitTimers(t, clk, 1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("ожидали context.Canceled, получили %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("отмена не прервала ожидание")
	}
}
