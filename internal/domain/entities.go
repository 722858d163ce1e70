package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ChannelIdentity описывает разрешённый канал: числовой идентификатор
// и access hash MTProto, полученные от транспорта.
type ChannelIdentity struct {
	ID         int64
	AccessHash int64
	Title      string
	Username   string
}

// MessageRange задаёт диапазон идентификаторов сообщений источника.
// EndID == 0 — открытый диапазон: пересылать и вновь приходящие сообщения.
type MessageRange struct {
	StartID int
	EndID   int
}

// Open сообщает, что верхней границы нет.
func (r MessageRange) Open() bool { return r.EndID == 0 }

// Validate проверяет согласованность диапазона.
func (r MessageRange) Validate() error {
	if r.StartID < 1 {
		return fmt.Errorf("start_id должен быть не меньше 1, получен %d", r.StartID)
	}
	if r.EndID < 0 {
		return fmt.Errorf("end_id должен быть не меньше 0, получен %d", r.EndID)
	}
	if r.EndID != 0 && r.StartID > r.EndID {
		return fmt.Errorf("start_id %d больше end_id %d", r.StartID, r.EndID)
	}
	return nil
}

// DeliveryTarget — одно место назначения пересылки с политикой отображения
// автора. Формируется при старте из конфигурации и далее не меняется.
type DeliveryTarget struct {
	Channel    ChannelIdentity
	HideAuthor bool
}

// Message — минимальное представление сообщения источника, достаточное
// для решения о пересылке.
type Message struct {
	ID        int
	GroupedID int64 // != 0 у элементов альбома
	Service   bool  // служебное сообщение, пересылке не подлежит
}

// RateState — состояние ограничителя скорости отправки.
// CooldownUntil, если задан, доминирует над фиксированным интервалом.
type RateState struct {
	LastSendAt    time.Time
	CooldownUntil time.Time
}

// CursorSnapshot — сохранённая позиция пересылки. NextID указывает на
// следующее сообщение, которое предстоит обработать.
type CursorSnapshot struct {
	Key      string
	SourceID int64
	NextID   int
	SavedAt  time.Time
}

// RunKey строит ключ состояния запуска: одинаковая конфигурация источника
// и диапазона всегда даёт один ключ, разные диапазоны не пересекаются.
func RunKey(sessionName string, source ChannelRef, r MessageRange) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", sessionName, source, r.StartID, r.EndID)))
	return hex.EncodeToString(sum[:8])
}

// ForwardOutcome — исход одной попытки доставки.
type ForwardOutcome int

const (
	OutcomeDelivered ForwardOutcome = iota
	OutcomeNotFound
	OutcomeRateLimited
	OutcomeTransient
	OutcomeFatal
)

// ForwardResult — результат попытки доставки сообщения в одно место
// назначения. Потребляется политикой повторов сразу, нигде не хранится.
type ForwardResult struct {
	Target  DeliveryTarget
	Outcome ForwardOutcome
	Wait    time.Duration // требуемая пауза при OutcomeRateLimited
	Err     error
}

// EngineState — наблюдаемое состояние цикла пересылки.
type EngineState string

const (
	StateRunning            EngineState = "running"
	StateWaitingOnRateLimit EngineState = "waiting_on_rate_limit"
	StateStopped            EngineState = "stopped"
)

// StopReason — причина завершения запуска.
type StopReason string

const (
	StopRangeComplete StopReason = "range_complete"
	StopFatalError    StopReason = "fatal_error"
	StopCancelled     StopReason = "cancelled"
)

// RunReport — итог одного запуска пересылки.
type RunReport struct {
	RunID      string
	Reason     StopReason
	Forwarded  int
	Skipped    int
	FloodWaits int
	NextID     int
}
