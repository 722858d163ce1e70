package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"tg-forwarder/internal/adapters/mtproto"
	"tg-forwarder/internal/adapters/notify"
	"tg-forwarder/internal/adapters/state"
	"tg-forwarder/internal/domain"
	"tg-forwarder/internal/infra/config"
	httpinfra "tg-forwarder/internal/infra/http"
	applog "tg-forwarder/internal/infra/log"
	"tg-forwarder/internal/infra/metrics"
	"tg-forwarder/internal/usecase/forward"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("forwarder: конфигурация некорректна")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := state.Open(state.Config{
		Driver:     cfg.State.Driver,
		Dir:        cfg.State.Dir,
		SQLitePath: cfg.State.SQLitePath,
		PGDSN:      cfg.State.PGDSN,
		RedisAddr:  cfg.State.RedisAddr,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.State.Driver).Msg("forwarder: хранилище состояния недоступно")
	}

	source, err := domain.ParseChannelRef(cfg.Forward.Source)
	if err != nil {
		logger.Fatal().Err(err).Msg("forwarder: источник не разбирается")
	}
	targets := make([]domain.ChannelRef, 0, len(cfg.Forward.Targets))
	for _, raw := range cfg.Forward.Targets {
		ref, err := domain.ParseChannelRef(raw)
		if err != nil {
			logger.Fatal().Err(err).Str("target", raw).Msg("forwarder: место назначения не разбирается")
		}
		targets = append(targets, ref)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.BotToken != "" {
		tgNotifier, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID, logger.With().Str("component", "notify").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("forwarder: не удалось создать уведомителя")
		}
		notifier = tgNotifier
	}

	client, err := mtproto.NewClient(mtproto.ClientConfig{
		APIID:         cfg.Telegram.APIID,
		APIHash:       cfg.Telegram.APIHash,
		Phone:         cfg.Telegram.Phone,
		Password:      cfg.Telegram.Password,
		SessionName:   cfg.Telegram.SessionName,
		ProxyType:     cfg.Proxy.Type,
		ProxyAddr:     cfg.Proxy.Addr,
		ProxyUser:     cfg.Proxy.User,
		ProxyPassword: cfg.Proxy.Password,
		Debug:         cfg.MTProtoDebug,
	}, store, logger.With().Str("component", "mtproto").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("forwarder: не удалось собрать клиента")
	}

	transport := mtproto.NewTransport(client.API(), logger.With().Str("component", "mtproto").Logger())
	engine := forward.NewEngine(forward.Options{
		Transport:   transport,
		Store:       store,
		Logger:      logger.With().Str("component", "engine").Logger(),
		SessionName: cfg.Telegram.SessionName,
		Source:      source,
		Targets:     targets,
		Range:       cfg.Range(),
		Interval:    cfg.Forward.Interval,
		HideAuthor:  cfg.Forward.HideAuthor,
		IdlePoll:    cfg.Forward.IdlePoll,
		Retry: forward.RetryPolicy{
			InitialInterval: cfg.Forward.BackoffBase,
			MaxInterval:     cfg.Forward.BackoffCap,
			MaxAttempts:     cfg.Forward.MaxFetchRetries,
		},
		MaxMessageRetries: cfg.Forward.MaxMessageRetries,
	})

	ops := httpinfra.NewServer(logger.With().Str("component", "ops").Logger(), func() any {
		return engine.Status()
	})
	ops.Start(ctx, cfg.OpsAddr)

	var report domain.RunReport
	runErr := client.Run(ctx, func(ctx context.Context) error {
		var err error
		report, err = engine.Run(ctx)
		return err
	})

	logRunOutcome(logger, report, runErr)
	notifier.Notify(formatReport(report, runErr))

	stop()
	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("forwarder: ошибка закрытия хранилища")
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		os.Exit(1)
	}
}

func logRunOutcome(logger zerolog.Logger, report domain.RunReport, err error) {
	event := logger.Info()
	if err != nil && !errors.Is(err, context.Canceled) {
		event = logger.Error().Err(err)
	}
	event.
		Str("run_id", report.RunID).
		Str("reason", string(report.Reason)).
		Int("forwarded", report.Forwarded).
		Int("skipped", report.Skipped).
		Int("flood_waits", report.FloodWaits).
		Int("next_id", report.NextID).
		Msg("forwarder: запуск завершён")
}

func formatReport(report domain.RunReport, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Форвардер остановлен: %s\n", reasonText(report.Reason))
	fmt.Fprintf(&b, "Переслано: %d, пропущено: %d, flood wait: %d\n", report.Forwarded, report.Skipped, report.FloodWaits)
	fmt.Fprintf(&b, "Следующий id: %d", report.NextID)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(&b, "\nОшибка: %v", err)
	}
	return b.String()
}

func reasonText(reason domain.StopReason) string {
	switch reason {
	case domain.StopRangeComplete:
		return "диапазон обработан"
	case domain.StopCancelled:
		return "остановлен по сигналу"
	case domain.StopFatalError:
		return "фатальная ошибка"
	default:
		return string(reason)
	}
}
