package mtproto

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-forwarder/internal/domain"
	"tg-forwarder/internal/infra/metrics"
)

// Transport выполняет операции пересылки поверх Telegram API. Разрешённые
// каналы кэшируются на время жизни процесса.
type Transport struct {
	api *tg.Client
	log zerolog.Logger

	mu    sync.Mutex
	cache map[string]domain.ChannelIdentity
}

var _ domain.Transport = (*Transport)(nil)

// NewTransport оборачивает низкоуровневый tg клиент.
func NewTransport(api *tg.Client, log zerolog.Logger) *Transport {
	return &Transport{
		api:   api,
		log:   log,
		cache: make(map[string]domain.ChannelIdentity),
	}
}

// Resolve превращает ссылку из конфигурации в идентичность канала.
func (t *Transport) Resolve(ctx context.Context, ref domain.ChannelRef) (domain.ChannelIdentity, error) {
	t.mu.Lock()
	cached, ok := t.cache[ref.String()]
	t.mu.Unlock()
	if ok {
		return cached, nil
	}

	identity, err := t.resolve(ctx, ref)
	if err != nil {
		return domain.ChannelIdentity{}, &domain.ResolutionError{Ref: ref, Err: err}
	}

	t.mu.Lock()
	t.cache[ref.String()] = identity
	t.mu.Unlock()

	t.log.Info().
		Str("ref", ref.String()).
		Int64("channel_id", identity.ID).
		Str("title", identity.Title).
		Msg("mtproto: канал разрешён")
	return identity, nil
}

func (t *Transport) resolve(ctx context.Context, ref domain.ChannelRef) (domain.ChannelIdentity, error) {
	switch ref.Kind {
	case domain.RefUsername:
		return t.resolveUsername(ctx, ref.Username)
	case domain.RefChannelID:
		return t.resolveChannelID(ctx, ref.ChannelID)
	case domain.RefInviteHash:
		return t.resolveInvite(ctx, ref.InviteHash)
	default:
		return domain.ChannelIdentity{}, fmt.Errorf("%w: неизвестный вид ссылки", domain.ErrChannelRefInvalid)
	}
}

func (t *Transport) resolveUsername(ctx context.Context, name string) (domain.ChannelIdentity, error) {
	start := time.Now()
	peer, err := t.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: name})
	metrics.ObserveNetworkRequest("telegram", "contacts.resolveUsername", name, start, err)
	if err != nil {
		return domain.ChannelIdentity{}, mapRPCError(err)
	}
	for _, chat := range peer.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			return identityFromChannel(ch), nil
		}
	}
	return domain.ChannelIdentity{}, fmt.Errorf("@%s не является каналом", name)
}

// resolveChannelID запрашивает канал по голому id. Access hash канала
// известен серверу по текущей сессии, поэтому в запросе он нулевой.
func (t *Transport) resolveChannelID(ctx context.Context, id int64) (domain.ChannelIdentity, error) {
	start := time.Now()
	chats, err := t.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: id}})
	metrics.ObserveNetworkRequest("telegram", "channels.getChannels", strconv.FormatInt(id, 10), start, err)
	if err != nil {
		return domain.ChannelIdentity{}, mapRPCError(err)
	}
	for _, chat := range chats.GetChats() {
		if ch, ok := chat.(*tg.Channel); ok && ch.ID == id {
			return identityFromChannel(ch), nil
		}
	}
	return domain.ChannelIdentity{}, fmt.Errorf("канал %d отсутствует в ответе", id)
}

func (t *Transport) resolveInvite(ctx context.Context, hash string) (domain.ChannelIdentity, error) {
	start := time.Now()
	invite, err := t.api.MessagesCheckChatInvite(ctx, hash)
	metrics.ObserveNetworkRequest("telegram", "messages.checkChatInvite", "invite", start, err)
	if err != nil {
		return domain.ChannelIdentity{}, mapRPCError(err)
	}

	var chat tg.ChatClass
	switch inv := invite.(type) {
	case *tg.ChatInviteAlready:
		chat = inv.Chat
	case *tg.ChatInvitePeek:
		chat = inv.Chat
	case *tg.ChatInvite:
		return domain.ChannelIdentity{}, fmt.Errorf("аккаунт не состоит в канале по приглашению")
	default:
		return domain.ChannelIdentity{}, fmt.Errorf("неожиданный ответ checkChatInvite: %T", invite)
	}

	ch, ok := chat.(*tg.Channel)
	if !ok {
		return domain.ChannelIdentity{}, fmt.Errorf("приглашение ведёт не в канал: %T", chat)
	}
	return identityFromChannel(ch), nil
}

// Fetch читает одно сообщение по id. Удалённые и ещё не существующие
// сообщения приходят как MessageEmpty и превращаются в ErrMessageNotFound.
func (t *Transport) Fetch(ctx context.Context, ch domain.ChannelIdentity, msgID int) (domain.Message, error) {
	start := time.Now()
	res, err := t.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: inputChannel(ch),
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: msgID}},
	})
	metrics.ObserveNetworkRequest("telegram", "channels.getMessages", channelTarget(ch), start, err)
	if err != nil {
		return domain.Message{}, mapRPCError(err)
	}

	msgs, ok := res.(*tg.MessagesChannelMessages)
	if !ok {
		return domain.Message{}, &domain.TransientError{Err: fmt.Errorf("неожиданный ответ getMessages: %T", res)}
	}
	for _, m := range msgs.Messages {
		switch msg := m.(type) {
		case *tg.Message:
			if msg.ID != msgID {
				continue
			}
			grouped, _ := msg.GetGroupedID()
			return domain.Message{ID: msg.ID, GroupedID: grouped}, nil
		case *tg.MessageService:
			if msg.ID != msgID {
				continue
			}
			return domain.Message{ID: msg.ID, Service: true}, nil
		}
	}
	return domain.Message{}, domain.ErrMessageNotFound
}

// LatestMessageID возвращает id последнего сообщения канала, 0 для пустого.
func (t *Transport) LatestMessageID(ctx context.Context, ch domain.ChannelIdentity) (int, error) {
	start := time.Now()
	res, err := t.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  inputPeer(ch),
		Limit: 1,
	})
	metrics.ObserveNetworkRequest("telegram", "messages.getHistory", channelTarget(ch), start, err)
	if err != nil {
		return 0, mapRPCError(err)
	}

	msgs, ok := res.(*tg.MessagesChannelMessages)
	if !ok {
		return 0, &domain.TransientError{Err: fmt.Errorf("неожиданный ответ getHistory: %T", res)}
	}
	for _, m := range msgs.Messages {
		switch msg := m.(type) {
		case *tg.Message:
			return msg.ID, nil
		case *tg.MessageService:
			return msg.ID, nil
		}
	}
	return 0, nil
}

// Forward пересылает сообщение или альбом одним вызовом API.
func (t *Transport) Forward(ctx context.Context, from domain.ChannelIdentity, ids []int, to domain.ChannelIdentity, hideAuthor bool) error {
	if len(ids) == 0 {
		return &domain.FatalError{Err: fmt.Errorf("пустой список сообщений для пересылки")}
	}
	randomIDs, err := newRandomIDs(len(ids))
	if err != nil {
		return &domain.TransientError{Err: err}
	}

	start := time.Now()
	_, err = t.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		DropAuthor: hideAuthor,
		FromPeer:   inputPeer(from),
		ID:         append([]int(nil), ids...),
		RandomID:   randomIDs,
		ToPeer:     inputPeer(to),
	})
	metrics.ObserveNetworkRequest("telegram", "messages.forwardMessages", channelTarget(to), start, err)
	if err != nil {
		return mapRPCError(err)
	}
	return nil
}

// newRandomIDs генерирует идентификаторы дедупликации отправки.
func newRandomIDs(n int) ([]int64, error) {
	buf := make([]byte, 8*n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("random id: %w", err)
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

func inputChannel(ch domain.ChannelIdentity) *tg.InputChannel {
	return &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
}

func inputPeer(ch domain.ChannelIdentity) *tg.InputPeerChannel {
	return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
}

func channelTarget(ch domain.ChannelIdentity) string {
	if ch.Username != "" {
		return ch.Username
	}
	return strconv.FormatInt(ch.ID, 10)
}
