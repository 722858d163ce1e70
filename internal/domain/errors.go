package domain

import (
	"errors"
	"fmt"
	"time"
)

// Сигнальные ошибки хранилища и транспорта.
var (
	ErrMessageNotFound   = errors.New("сообщение не найдено")
	ErrCursorNotFound    = errors.New("снимок курсора не найден")
	ErrSessionNotFound   = errors.New("сессия не найдена")
	ErrChannelRefInvalid = errors.New("ссылка на канал выглядит некорректно")
)

// ResolutionError — канал из конфигурации не удалось разрешить.
// Останавливает запуск до начала основного цикла.
type ResolutionError struct {
	Ref ChannelRef
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("резолв канала %s: %v", e.Ref, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// FloodWaitError — сервер потребовал паузу перед следующим запросом.
// Ожидаемая и восстановимая ситуация; значение паузы авторитетно.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: сервер требует паузу %s", e.Wait)
}

// TransientError — временный сбой, попытку имеет смысл повторить.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "временный сбой: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError — невосстановимый сбой, запуск должен остановиться
// с сохранением курсора.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "фатальный сбой: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// AsFloodWait возвращает требуемую паузу, если ошибка — flood wait.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}
	return 0, false
}

// IsTransient сообщает, допускает ли ошибка повтор попытки.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal сообщает, требует ли ошибка остановки запуска.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
