package domain

import "context"

// Transport выполняет операции MTProto над каналами: разрешение ссылок,
// чтение сообщений и собственно пересылку. Соединением и сессией владеет
// целиком; ядро им не управляет.
type Transport interface {
	// Resolve превращает ссылку из конфигурации в числовую идентичность
	// канала. Ошибка оборачивается в ResolutionError.
	Resolve(ctx context.Context, ref ChannelRef) (ChannelIdentity, error)
	// Fetch читает одно сообщение по id. Для отсутствующих (удалённых или
	// ещё не существующих) возвращает ErrMessageNotFound.
	Fetch(ctx context.Context, ch ChannelIdentity, msgID int) (Message, error)
	// LatestMessageID возвращает id последнего сообщения канала.
	LatestMessageID(ctx context.Context, ch ChannelIdentity) (int, error)
	// Forward пересылает сообщение или целый альбом одним вызовом.
	Forward(ctx context.Context, from ChannelIdentity, ids []int, to ChannelIdentity, hideAuthor bool) error
}

// CursorStore хранит курсоры пересылки и отметки доставки текущего
// сообщения. Отметки позволяют при рестарте не отправлять сообщение
// повторно в уже подтверждённые места назначения.
type CursorStore interface {
	LoadCursor(ctx context.Context, key string) (CursorSnapshot, error)
	SaveCursor(ctx context.Context, snap CursorSnapshot) error
	DeliveredTargets(ctx context.Context, key string, msgID int) ([]int64, error)
	MarkDelivered(ctx context.Context, key string, msgID int, targetID int64) error
	ClearDelivered(ctx context.Context, key string, msgID int) error
}

// SessionStore хранит блоб сессии MTProto между запусками.
type SessionStore interface {
	LoadSessionBlob(ctx context.Context, name string) ([]byte, error)
	StoreSessionBlob(ctx context.Context, name string, data []byte) error
}

// StateStore объединяет всё, что обязан уметь бекенд состояния.
type StateStore interface {
	CursorStore
	SessionStore
	Close() error
}
