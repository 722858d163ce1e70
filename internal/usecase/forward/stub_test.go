package forward

import (
	"context"
	"sync"
	"testing"

	"tg-forwarder/internal/domain"
)

// forwardCall — одна физическая отправка, зафиксированная стабом.
type forwardCall struct {
	from domain.ChannelIdentity
	ids  []int
	to   domain.ChannelIdentity
	hide bool
}

// stubTransport — транспорт в памяти: содержимое источника задаётся
// картой сообщений, сбои подкладываются очередями ошибок на вызов.
type stubTransport struct {
	mu         sync.Mutex
	idents     map[string]domain.ChannelIdentity
	messages   map[int]domain.Message
	latest     int
	resolveErr map[string]error
	fetchErr   map[int][]error
	forwardErr map[int64][]error
	latestErr  []error
	forwards   []forwardCall
	fetches    []int
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		idents:     make(map[string]domain.ChannelIdentity),
		messages:   make(map[int]domain.Message),
		resolveErr: make(map[string]error),
		fetchErr:   make(map[int][]error),
		forwardErr: make(map[int64][]error),
	}
}

func (s *stubTransport) addChannel(raw string, id int64) domain.ChannelIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := domain.ChannelIdentity{ID: id, AccessHash: id * 31, Title: raw}
	s.idents[raw] = ch
	return ch
}

func (s *stubTransport) addMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
	if msg.ID > s.latest {
		s.latest = msg.ID
	}
}

func (s *stubTransport) addMessages(from, to int) {
	for id := from; id <= to; id++ {
		s.addMessage(domain.Message{ID: id})
	}
}

func (s *stubTransport) setLatest(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = id
}

func (s *stubTransport) queueFetchErr(id int, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr[id] = append(s.fetchErr[id], errs...)
}

func (s *stubTransport) queueForwardErr(targetID int64, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwardErr[targetID] = append(s.forwardErr[targetID], errs...)
}

func (s *stubTransport) forwardCalls() []forwardCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]forwardCall, len(s.forwards))
	copy(out, s.forwards)
	return out
}

func (s *stubTransport) fetchCount(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.fetches {
		if f == id {
			n++
		}
	}
	return n
}

func (s *stubTransport) Resolve(ctx context.Context, ref domain.ChannelRef) (domain.ChannelIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.resolveErr[ref.String()]; err != nil {
		return domain.ChannelIdentity{}, &domain.ResolutionError{Ref: ref, Err: err}
	}
	ch, ok := s.idents[ref.String()]
	if !ok {
		return domain.ChannelIdentity{}, &domain.ResolutionError{Ref: ref, Err: domain.ErrChannelRefInvalid}
	}
	return ch, nil
}

func (s *stubTransport) Fetch(ctx context.Context, ch domain.ChannelIdentity, msgID int) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, msgID)
	if q := s.fetchErr[msgID]; len(q) > 0 {
		err := q[0]
		s.fetchErr[msgID] = q[1:]
		return domain.Message{}, err
	}
	msg, ok := s.messages[msgID]
	if !ok {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	return msg, nil
}

func (s *stubTransport) LatestMessageID(ctx context.Context, ch domain.ChannelIdentity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latestErr) > 0 {
		err := s.latestErr[0]
		s.latestErr = s.latestErr[1:]
		return 0, err
	}
	return s.latest, nil
}

func (s *stubTransport) Forward(ctx context.Context, from domain.ChannelIdentity, ids []int, to domain.ChannelIdentity, hideAuthor bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// физическая попытка записывается раньше результата
	s.forwards = append(s.forwards, forwardCall{from: from, ids: append([]int(nil), ids...), to: to, hide: hideAuthor})
	if q := s.forwardErr[to.ID]; len(q) > 0 {
		err := q[0]
		s.forwardErr[to.ID] = q[1:]
		return err
	}
	return nil
}

var _ domain.Transport = (*stubTransport)(nil)

// stubStore — хранилище курсоров и отметок в памяти.
type stubStore struct {
	mu      sync.Mutex
	cursors map[string]domain.CursorSnapshot
	marks   map[string]map[int]map[int64]struct{}
	saveErr error
	markErr error
	saves   int
}

func newStubStore() *stubStore {
	return &stubStore{
		cursors: make(map[string]domain.CursorSnapshot),
		marks:   make(map[string]map[int]map[int64]struct{}),
	}
}

func (s *stubStore) LoadCursor(ctx context.Context, key string) (domain.CursorSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.cursors[key]
	if !ok {
		return domain.CursorSnapshot{}, domain.ErrCursorNotFound
	}
	return snap, nil
}

func (s *stubStore) SaveCursor(ctx context.Context, snap domain.CursorSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.cursors[snap.Key] = snap
	return nil
}

func (s *stubStore) DeliveredTargets(ctx context.Context, key string, msgID int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id := range s.marks[key][msgID] {
		out = append(out, id)
	}
	return out, nil
}

func (s *stubStore) MarkDelivered(ctx context.Context, key string, msgID int, targetID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	if s.marks[key] == nil {
		s.marks[key] = make(map[int]map[int64]struct{})
	}
	if s.marks[key][msgID] == nil {
		s.marks[key][msgID] = make(map[int64]struct{})
	}
	s.marks[key][msgID][targetID] = struct{}{}
	return nil
}

func (s *stubStore) ClearDelivered(ctx context.Context, key string, msgID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marks[key] != nil {
		delete(s.marks[key], msgID)
	}
	return nil
}

var _ domain.CursorStore = (*stubStore)(nil)

func (s *stubStore) putCursor(snap domain.CursorSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[snap.Key] = snap
}

func (s *stubStore) cursor(key string) (domain.CursorSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.cursors[key]
	return snap, ok
}

func (s *stubStore) markedTargets(key string, msgID int) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id := range s.marks[key][msgID] {
		out = append(out, id)
	}
	return out
}

func (s *stubStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func mustRef(t *testing.T, raw string) domain.ChannelRef {
	t.Helper()
	ref, err := domain.ParseChannelRef(raw)
	if err != nil {
		t.Fatalf("не удалось разобрать ссылку %q: %v", raw, err)
	}
	return ref
}
