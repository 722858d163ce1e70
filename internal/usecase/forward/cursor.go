package forward

import "tg-forwarder/internal/domain"

// RangeCursor отслеживает следующий идентификатор сообщения источника.
// Чистое состояние без отказов; движется только вперёд.
type RangeCursor struct {
	rng  domain.MessageRange
	next int
}

// NewRangeCursor создаёт курсор в начале диапазона.
func NewRangeCursor(rng domain.MessageRange) *RangeCursor {
	return &RangeCursor{rng: rng, next: rng.StartID}
}

// Load восстанавливает позицию из сохранённого снимка.
// Назад курсор не двигается: позиция монотонна и между рестартами.
func (c *RangeCursor) Load(persisted int) {
	if persisted > c.next {
		c.next = persisted
	}
}

// Current возвращает id следующего сообщения для обработки.
func (c *RangeCursor) Current() int { return c.next }

// Advance переводит курсор на следующий id.
func (c *RangeCursor) Advance() { c.next++ }

// AdvanceTo переводит курсор сразу на id (после пересылки альбома).
// Движение назад невозможно.
func (c *RangeCursor) AdvanceTo(id int) {
	if id > c.next {
		c.next = id
	}
}

// Exhausted истинно, когда ограниченный диапазон пройден до конца.
// В открытом диапазоне (EndID == 0) не наступает никогда.
func (c *RangeCursor) Exhausted() bool {
	return c.rng.EndID != 0 && c.next > c.rng.EndID
}

// Snapshot возвращает позицию для сохранения.
func (c *RangeCursor) Snapshot() int { return c.next }
