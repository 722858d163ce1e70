package forward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/clock"
	"github.com/rs/zerolog"

	"tg-forwarder/internal/domain"
	"tg-forwarder/internal/infra/metrics"
)

// Альбом Telegram не бывает длиннее десяти сообщений.
const maxAlbumSize = 10

// Options — параметры движка пересылки.
type Options struct {
	Transport   domain.Transport
	Store       domain.CursorStore
	Logger      zerolog.Logger
	Clock       clock.Clock // по умолчанию системные часы
	SessionName string
	Source      domain.ChannelRef
	Targets     []domain.ChannelRef
	Range       domain.MessageRange
	Interval    time.Duration // минимальный интервал между отправками
	HideAuthor  bool
	IdlePoll    time.Duration // пауза опроса источника в открытом диапазоне
	Retry       RetryPolicy
	// MaxMessageRetries ограничивает повторы одного сообщения
	// (flood wait и временные сбои доставки) до фатальной остановки.
	MaxMessageRetries int
}

// Engine — машина состояний пересылки: выбирает сообщения по порядку,
// управляет темпом и повторами и продвигает курсор только после
// подтверждённого исхода по всем местам назначения.
type Engine struct {
	transport domain.Transport
	store     domain.CursorStore
	limiter   *RateLimiter
	fanout    *Dispatcher
	clk       clock.Clock
	logger    zerolog.Logger

	sourceRef         domain.ChannelRef
	targetRefs        []domain.ChannelRef
	rng               domain.MessageRange
	hideAuthor        bool
	idlePoll          time.Duration
	retry             RetryPolicy
	maxMessageRetries int
	key               string

	// заполняется в prepare и далее читается только циклом Run
	cursor  *RangeCursor
	source  domain.ChannelIdentity
	targets []domain.DeliveryTarget
	latest  int

	mu     sync.RWMutex
	state  domain.EngineState
	report domain.RunReport
}

// Status — наблюдаемый снимок движка для ops-эндпоинта.
type Status struct {
	State  domain.EngineState
	Report domain.RunReport
	Rate   domain.RateState
}

// NewEngine собирает движок. Нулевые поля Options получают значения
// по умолчанию.
func NewEngine(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.IdlePoll <= 0 {
		opts.IdlePoll = 30 * time.Second
	}
	if opts.MaxMessageRetries <= 0 {
		opts.MaxMessageRetries = 5
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	limiter := NewRateLimiter(opts.Clock, opts.Interval)
	e := &Engine{
		transport:         opts.Transport,
		store:             opts.Store,
		limiter:           limiter,
		clk:               opts.Clock,
		logger:            opts.Logger,
		sourceRef:         opts.Source,
		targetRefs:        opts.Targets,
		rng:               opts.Range,
		hideAuthor:        opts.HideAuthor,
		idlePoll:          opts.IdlePoll,
		retry:             opts.Retry,
		maxMessageRetries: opts.MaxMessageRetries,
		key:               domain.RunKey(opts.SessionName, opts.Source, opts.Range),
		state:             domain.StateRunning,
	}
	e.fanout = NewDispatcher(opts.Transport, limiter, opts.Store, opts.Logger)
	e.report.RunID = uuid.NewString()
	return e
}

// Run выполняет цикл пересылки до исчерпания диапазона, фатальной
// ошибки или отмены контекста. Отчёт возвращается при любом исходе;
// курсор сохраняется после каждого подтверждённого продвижения, поэтому
// остановка в любой точке безопасна для возобновления.
func (e *Engine) Run(ctx context.Context) (domain.RunReport, error) {
	defer e.setState(domain.StateStopped)

	if err := e.prepare(ctx); err != nil {
		if isCancel(err) {
			return e.finish(domain.StopCancelled), err
		}
		return e.finish(domain.StopFatalError), err
	}

	for {
		if err := ctx.Err(); err != nil {
			return e.finish(domain.StopCancelled), err
		}
		if e.cursor.Exhausted() {
			e.logger.Info().Int("next_id", e.cursor.Current()).Msg("engine: диапазон пройден")
			return e.finish(domain.StopRangeComplete), nil
		}

		id := e.cursor.Current()
		msg, err := e.fetchCurrent(ctx, id)
		switch {
		case errors.Is(err, domain.ErrMessageNotFound):
			e.skip(ctx, id, "absent")
			continue
		case isCancel(err):
			return e.finish(domain.StopCancelled), err
		case err != nil:
			e.logger.Error().Err(err).Int("msg_id", id).Msg("engine: чтение сообщения невозможно")
			return e.finish(domain.StopFatalError), err
		}
		if msg.Service {
			e.skip(ctx, id, "service")
			continue
		}

		ids, err := e.expandAlbum(ctx, msg)
		if err != nil {
			if isCancel(err) {
				return e.finish(domain.StopCancelled), err
			}
			return e.finish(domain.StopFatalError), err
		}

		if err := e.deliver(ctx, ids); err != nil {
			if isCancel(err) {
				return e.finish(domain.StopCancelled), err
			}
			e.logger.Error().Err(err).Int("msg_id", id).Msg("engine: доставка остановлена")
			return e.finish(domain.StopFatalError), err
		}
		e.confirm(ctx, ids)
	}
}

// prepare разрешает каналы, загружает курсор и, в открытом диапазоне,
// последний id источника. Любая ошибка здесь останавливает запуск до
// начала основного цикла.
func (e *Engine) prepare(ctx context.Context) error {
	if len(e.targetRefs) == 0 {
		return &domain.FatalError{Err: errors.New("не задано ни одного места назначения")}
	}

	src, err := e.transport.Resolve(ctx, e.sourceRef)
	if err != nil {
		return err
	}
	e.source = src

	e.targets = make([]domain.DeliveryTarget, 0, len(e.targetRefs))
	for _, ref := range e.targetRefs {
		ch, err := e.transport.Resolve(ctx, ref)
		if err != nil {
			return err
		}
		if ch.ID == src.ID {
			return &domain.FatalError{Err: fmt.Errorf("место назначения %s совпадает с источником", ref)}
		}
		e.targets = append(e.targets, domain.DeliveryTarget{Channel: ch, HideAuthor: e.hideAuthor})
	}

	e.cursor = NewRangeCursor(e.rng)
	snap, err := e.store.LoadCursor(ctx, e.key)
	switch {
	case errors.Is(err, domain.ErrCursorNotFound):
		// первый запуск этой конфигурации
	case err != nil:
		return fmt.Errorf("загрузка курсора: %w", err)
	default:
		if snap.SourceID != 0 && snap.SourceID != src.ID {
			return &domain.FatalError{Err: fmt.Errorf("снимок курсора принадлежит другому источнику: %d вместо %d", snap.SourceID, src.ID)}
		}
		e.cursor.Load(snap.NextID)
		e.logger.Info().Int("next_id", e.cursor.Current()).Msg("engine: продолжаем с сохранённой позиции")
	}
	e.setNextID(e.cursor.Current())

	if e.rng.Open() {
		latest, err := e.latestWithRetry(ctx)
		if err != nil {
			return err
		}
		e.latest = latest
	}

	e.logger.Info().
		Str("source", e.sourceRef.String()).
		Int("targets", len(e.targets)).
		Int("next_id", e.cursor.Current()).
		Msg("engine: старт пересылки")
	return nil
}

// fetchCurrent читает сообщение id. В открытом диапазоне сперва
// дожидается, пока источник его опубликует: id за пределом последнего
// известного — не «удалённое», а ещё не существующее.
func (e *Engine) fetchCurrent(ctx context.Context, id int) (domain.Message, error) {
	if e.rng.Open() && id > e.latest {
		if err := e.waitForMessage(ctx, id); err != nil {
			return domain.Message{}, err
		}
	}
	return e.fetchWithRetry(ctx, id)
}

// waitForMessage опрашивает последний id источника с паузой между
// опросами, пока не появится сообщение id.
func (e *Engine) waitForMessage(ctx context.Context, id int) error {
	for {
		latest, err := e.latestWithRetry(ctx)
		if err != nil {
			return err
		}
		e.latest = latest
		if id <= e.latest {
			return nil
		}
		e.logger.Debug().Int("next_id", id).Int("latest", latest).Msg("engine: источник исчерпан, ждём новые сообщения")
		if err := sleepClock(ctx, e.clk, e.idlePoll); err != nil {
			return err
		}
	}
}

func (e *Engine) fetchWithRetry(ctx context.Context, id int) (domain.Message, error) {
	var msg domain.Message
	err := e.callWithRetry(ctx, "чтение сообщения", func() error {
		var ferr error
		msg, ferr = e.transport.Fetch(ctx, e.source, id)
		return ferr
	})
	return msg, err
}

func (e *Engine) latestWithRetry(ctx context.Context) (int, error) {
	var latest int
	err := e.callWithRetry(ctx, "опрос последнего id", func() error {
		var lerr error
		latest, lerr = e.transport.LatestMessageID(ctx, e.source)
		return lerr
	})
	return latest, err
}

// callWithRetry выполняет операцию чтения, поглощая flood wait и
// повторяя временные сбои с экспоненциальной задержкой. Исчерпание
// повторов превращается в фатальную ошибку.
func (e *Engine) callWithRetry(ctx context.Context, what string, op func() error) error {
	b := e.retry.newBackOff()
	attempts, floods := 0, 0
	for {
		err := op()
		if err == nil || errors.Is(err, domain.ErrMessageNotFound) {
			e.setState(domain.StateRunning)
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if wait, ok := domain.AsFloodWait(err); ok {
			floods++
			if floods > e.maxMessageRetries {
				return &domain.FatalError{Err: fmt.Errorf("%s: превышен предел повторов по flood wait: %w", what, err)}
			}
			e.noteFloodWait(wait)
			e.limiter.RecordCooldown(wait)
			if serr := sleepClock(ctx, e.clk, wait); serr != nil {
				return serr
			}
			continue
		}
		if domain.IsTransient(err) {
			attempts++
			if attempts >= e.retry.MaxAttempts {
				return &domain.FatalError{Err: fmt.Errorf("%s: исчерпаны повторы: %w", what, err)}
			}
			delay := b.NextBackOff()
			e.logger.Warn().Err(err).Str("op", what).Dur("delay", delay).Msg("engine: временный сбой, повтор")
			if serr := sleepClock(ctx, e.clk, delay); serr != nil {
				return serr
			}
			continue
		}
		return err
	}
}

// expandAlbum собирает полный альбом заглядыванием вперёд: элементы
// идут подряд и делят один grouped_id. Альбом пересылается одним
// вызовом, поэтому его состав нужен до рассылки.
func (e *Engine) expandAlbum(ctx context.Context, msg domain.Message) ([]int, error) {
	ids := []int{msg.ID}
	if msg.GroupedID == 0 {
		return ids, nil
	}
	for next := msg.ID + 1; len(ids) < maxAlbumSize; next++ {
		m, err := e.fetchWithRetry(ctx, next)
		if errors.Is(err, domain.ErrMessageNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if m.Service || m.GroupedID != msg.GroupedID {
			break
		}
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// deliver доводит сообщение до всех мест назначения. Получатели с
// rate limit и временными сбоями уходят на следующий проход; число
// проходов на одно сообщение ограничено, чтобы застрявшее сообщение
// не зависло молча.
func (e *Engine) deliver(ctx context.Context, ids []int) error {
	pending := e.targets
	b := e.retry.newBackOff()
	for attempt := 0; ; attempt++ {
		results, err := e.fanout.Deliver(ctx, e.key, e.source, ids, pending)
		if err != nil {
			return err
		}

		var retry []domain.DeliveryTarget
		var transientSeen bool
		var fatalErr error
		for _, res := range results {
			switch res.Outcome {
			case domain.OutcomeDelivered:
			case domain.OutcomeRateLimited:
				e.noteFloodWait(res.Wait)
				retry = append(retry, res.Target)
			case domain.OutcomeTransient:
				transientSeen = true
				e.logger.Warn().Err(res.Err).Int64("target_id", res.Target.Channel.ID).Msg("engine: временный сбой доставки")
				retry = append(retry, res.Target)
			default:
				e.logger.Error().Err(res.Err).Int64("target_id", res.Target.Channel.ID).Msg("engine: фатальный отказ получателя")
				if fatalErr == nil {
					fatalErr = res.Err
				}
			}
		}

		if fatalErr != nil {
			if domain.IsFatal(fatalErr) {
				return fatalErr
			}
			return &domain.FatalError{Err: fatalErr}
		}
		if len(retry) == 0 {
			e.setState(domain.StateRunning)
			return nil
		}
		if attempt+1 >= e.maxMessageRetries {
			return &domain.FatalError{Err: fmt.Errorf("сообщение %d: исчерпаны повторы доставки", ids[0])}
		}
		if transientSeen {
			if err := sleepClock(ctx, e.clk, b.NextBackOff()); err != nil {
				return err
			}
		}
		// после flood wait отдельная пауза не нужна: BeforeSend
		// следующего прохода сам дождётся конца cooldown
		pending = retry
	}
}

// confirm фиксирует подтверждённую доставку: двигает курсор за
// последний id сообщения (или альбома), сохраняет снимок и снимает
// отметки доставки.
func (e *Engine) confirm(ctx context.Context, ids []int) {
	last := ids[len(ids)-1]
	e.cursor.AdvanceTo(last + 1)
	e.persistCursor(ctx)
	if err := e.store.ClearDelivered(ctx, e.key, ids[0]); err != nil {
		e.logger.Warn().Err(err).Int("msg_id", ids[0]).Msg("engine: не удалось снять отметки доставки")
	}

	e.mu.Lock()
	e.report.Forwarded += len(ids)
	e.mu.Unlock()
	metrics.AddForwarded(len(ids))
	e.setState(domain.StateRunning)
	e.logger.Info().Int("msg_id", ids[0]).Int("count", len(ids)).Int("next_id", e.cursor.Current()).Msg("engine: сообщение переслано")
}

// skip пропускает отсутствующее или служебное сообщение: курсор
// двигается так же, как после доставки.
func (e *Engine) skip(ctx context.Context, id int, reason string) {
	e.cursor.Advance()
	e.persistCursor(ctx)

	e.mu.Lock()
	e.report.Skipped++
	e.mu.Unlock()
	metrics.IncSkipped(reason)
	e.setState(domain.StateRunning)
	e.logger.Info().Int("msg_id", id).Str("reason", reason).Msg("engine: сообщение пропущено")
}

// persistCursor сохраняет позицию. Сбой хранилища не останавливает
// пересылку: гарантия «не меньше одного раза» допускает устаревший
// снимок, рестарт лишь повторит уже доставленное.
func (e *Engine) persistCursor(ctx context.Context) {
	snap := domain.CursorSnapshot{
		Key:      e.key,
		SourceID: e.source.ID,
		NextID:   e.cursor.Snapshot(),
		SavedAt:  e.clk.Now(),
	}
	var err error
	for i := 0; i < 3; i++ {
		if err = e.store.SaveCursor(ctx, snap); err == nil {
			e.setNextID(snap.NextID)
			metrics.SetCursorPosition(snap.NextID)
			return
		}
		if ctx.Err() != nil {
			break
		}
	}
	e.setNextID(snap.NextID)
	metrics.IncCursorPersistError()
	e.logger.Warn().Err(err).Int("next_id", snap.NextID).Msg("engine: не удалось сохранить курсор")
}

func (e *Engine) noteFloodWait(wait time.Duration) {
	e.mu.Lock()
	e.report.FloodWaits++
	e.mu.Unlock()
	metrics.IncFloodWait(wait)
	e.setState(domain.StateWaitingOnRateLimit)
	e.logger.Warn().Dur("wait", wait).Msg("engine: сервер требует паузу")
}

func (e *Engine) finish(reason domain.StopReason) domain.RunReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report.Reason = reason
	return e.report
}

// Status возвращает снимок состояния движка; безопасен для вызова из
// других горутин.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{State: e.state, Report: e.report, Rate: e.limiter.Snapshot()}
}

func (e *Engine) setState(s domain.EngineState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) setNextID(id int) {
	e.mu.Lock()
	e.report.NextID = id
	e.mu.Unlock()
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
