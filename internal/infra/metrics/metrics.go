package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forwarder_messages_forwarded_total",
		Help: "Количество пересланных сообщений источника",
	})
	MessagesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forwarder_messages_skipped_total",
		Help: "Количество пропущенных сообщений по причинам",
	}, []string{"reason"})
	FloodWaitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forwarder_flood_waits_total",
		Help: "Количество полученных от сервера flood wait",
	})
	FloodWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "forwarder_flood_wait_seconds",
		Help:    "Требуемые сервером паузы",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
	})
	CursorPosition = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "forwarder_cursor_position",
		Help: "Текущая позиция курсора пересылки",
	})
	CursorPersistErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forwarder_cursor_persist_errors_total",
		Help: "Ошибки сохранения курсора",
	})
	NotifySendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_send_errors_total",
		Help: "Ошибки отправки служебных уведомлений",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60, 65, 70, 75, 80, 85, 90, 95, 100, 105, 110, 115, 120, 125, 130, 135, 140, 145, 150, 155, 160, 165, 170, 175, 180, 185, 190, 195, 200, 250, 300, 350, 400, 450, 500, 550, 600},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		MessagesForwarded,
		MessagesSkipped,
		FloodWaitsTotal,
		FloodWaitSeconds,
		CursorPosition,
		CursorPersistErrors,
		NotifySendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// AddForwarded увеличивает счётчик пересланных сообщений.
func AddForwarded(n int) {
	MessagesForwarded.Add(float64(n))
}

// IncSkipped увеличивает счётчик пропусков с указанием причины.
func IncSkipped(reason string) {
	MessagesSkipped.WithLabelValues(reason).Inc()
}

// IncFloodWait учитывает полученный flood wait и его длительность.
func IncFloodWait(wait time.Duration) {
	FloodWaitsTotal.Inc()
	FloodWaitSeconds.Observe(wait.Seconds())
}

// SetCursorPosition публикует текущую позицию курсора.
func SetCursorPosition(nextID int) {
	CursorPosition.Set(float64(nextID))
}

// IncCursorPersistError увеличивает счётчик ошибок сохранения курсора.
func IncCursorPersistError() {
	CursorPersistErrors.Inc()
}

// IncNotifyError увеличивает счётчик ошибок уведомлений.
func IncNotifyError() {
	NotifySendErrors.Inc()
}
