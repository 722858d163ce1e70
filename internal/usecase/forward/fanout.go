package forward

import (
	"context"

	"github.com/rs/zerolog"

	"tg-forwarder/internal/domain"
)

// Dispatcher доставляет одно сообщение (или альбом) во все места
// назначения по порядку. Доставки независимы: отказ одного получателя
// не останавливает попытки остальных, результат возвращается по каждому.
type Dispatcher struct {
	transport domain.Transport
	limiter   *RateLimiter
	marks     domain.CursorStore
	logger    zerolog.Logger
}

// NewDispatcher создаёт диспетчер веерной рассылки.
func NewDispatcher(transport domain.Transport, limiter *RateLimiter, marks domain.CursorStore, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{transport: transport, limiter: limiter, marks: marks, logger: logger}
}

// Deliver выполняет один проход по местам назначения. Каждая физическая
// отправка проходит через ограничитель скорости, поэтому интервал
// действует на отправку, а не на сообщение: N получателей стоят N
// ожиданий. Уже подтверждённые отметками получатели пропускаются.
// Ошибка возвращается только при отмене контекста.
func (d *Dispatcher) Deliver(ctx context.Context, key string, from domain.ChannelIdentity, ids []int, targets []domain.DeliveryTarget) ([]domain.ForwardResult, error) {
	msgID := ids[0]
	delivered := d.deliveredSet(ctx, key, msgID)

	results := make([]domain.ForwardResult, 0, len(targets))
	for _, target := range targets {
		if _, ok := delivered[target.Channel.ID]; ok {
			results = append(results, domain.ForwardResult{Target: target, Outcome: domain.OutcomeDelivered})
			continue
		}
		if err := d.limiter.BeforeSend(ctx); err != nil {
			return results, err
		}
		err := d.transport.Forward(ctx, from, ids, target.Channel, target.HideAuthor)
		d.limiter.RecordSend()
		if err == nil {
			if mErr := d.marks.MarkDelivered(ctx, key, msgID, target.Channel.ID); mErr != nil {
				d.logger.Warn().Err(mErr).Int64("target_id", target.Channel.ID).Msg("fanout: не удалось записать отметку доставки")
			}
			results = append(results, domain.ForwardResult{Target: target, Outcome: domain.OutcomeDelivered})
			continue
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res := classifyForward(target, err)
		if res.Outcome == domain.OutcomeRateLimited {
			// пауза регистрируется сразу, чтобы следующий получатель
			// в этом же проходе её учёл
			d.limiter.RecordCooldown(res.Wait)
		}
		results = append(results, res)
	}
	return results, nil
}

// deliveredSet читает отметки доставки. Отметки — вспомогательный
// механизм: при недоступном хранилище рассылка продолжается без них.
func (d *Dispatcher) deliveredSet(ctx context.Context, key string, msgID int) map[int64]struct{} {
	done, err := d.marks.DeliveredTargets(ctx, key, msgID)
	if err != nil {
		d.logger.Warn().Err(err).Int("msg_id", msgID).Msg("fanout: не удалось прочитать отметки доставки")
		return nil
	}
	if len(done) == 0 {
		return nil
	}
	set := make(map[int64]struct{}, len(done))
	for _, id := range done {
		set[id] = struct{}{}
	}
	return set
}

func classifyForward(target domain.DeliveryTarget, err error) domain.ForwardResult {
	if wait, ok := domain.AsFloodWait(err); ok {
		return domain.ForwardResult{Target: target, Outcome: domain.OutcomeRateLimited, Wait: wait, Err: err}
	}
	if domain.IsTransient(err) {
		return domain.ForwardResult{Target: target, Outcome: domain.OutcomeTransient, Err: err}
	}
	return domain.ForwardResult{Target: target, Outcome: domain.OutcomeFatal, Err: err}
}
