package config

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"

	"tg-forwarder/internal/domain"
)

// AppConfig описывает конфигурацию форвардера.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`

	Telegram struct {
		APIID       int    `envconfig:"TG_API_ID"`
		APIHash     string `envconfig:"TG_API_HASH"`
		Phone       string `envconfig:"TG_PHONE"`
		Password    string `envconfig:"TG_PASSWORD"`
		SessionName string `envconfig:"TG_SESSION_NAME" default:"forwarder"`
		BotToken    string `envconfig:"TG_BOT_TOKEN"`
		AdminChatID int64  `envconfig:"ADMIN_CHAT_ID"`
	} `envconfig:""`

	Proxy struct {
		Type     string `envconfig:"PROXY_TYPE"`
		Addr     string `envconfig:"PROXY_ADDR"`
		User     string `envconfig:"PROXY_USER"`
		Password string `envconfig:"PROXY_PASSWORD"`
	} `envconfig:""`

	Forward struct {
		Source            string        `envconfig:"SOURCE_CHANNEL"`
		Targets           []string      `envconfig:"TARGET_CHANNELS"`
		StartID           int           `envconfig:"MESSAGE_START_ID" default:"1"`
		EndID             int           `envconfig:"MESSAGE_END_ID" default:"0"`
		Interval          time.Duration `envconfig:"MESSAGE_INTERVAL" default:"1s"`
		HideAuthor        bool          `envconfig:"HIDE_AUTHOR" default:"true"`
		IdlePoll          time.Duration `envconfig:"IDLE_POLL_INTERVAL" default:"30s"`
		MaxMessageRetries int           `envconfig:"MAX_MESSAGE_RETRIES" default:"5"`
		MaxFetchRetries   int           `envconfig:"MAX_FETCH_RETRIES" default:"5"`
		BackoffBase       time.Duration `envconfig:"BACKOFF_BASE" default:"1s"`
		BackoffCap        time.Duration `envconfig:"BACKOFF_CAP" default:"30s"`
	} `envconfig:""`

	State struct {
		Driver     string `envconfig:"STATE_DRIVER" default:"file"`
		Dir        string `envconfig:"STATE_DIR" default:"./state"`
		SQLitePath string `envconfig:"SQLITE_PATH" default:"./state/forwarder.db"`
		PGDSN      string `envconfig:"PG_DSN"`
		RedisAddr  string `envconfig:"REDIS_ADDR"`
	} `envconfig:""`

	OpsAddr      string `envconfig:"OPS_ADDR" default:":9090"`
	MTProtoDebug bool   `envconfig:"MTPROTO_DEBUG" default:"false"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Range собирает диапазон пересылки из настроек.
func (c AppConfig) Range() domain.MessageRange {
	return domain.MessageRange{StartID: c.Forward.StartID, EndID: c.Forward.EndID}
}

// Validate проверяет конфиг до подключения к Telegram: неполная или
// противоречивая конфигурация должна останавливать запуск сразу.
func (c AppConfig) Validate() error {
	if c.Telegram.APIID == 0 {
		return fmt.Errorf("TG_API_ID обязателен")
	}
	if c.Telegram.APIHash == "" {
		return fmt.Errorf("TG_API_HASH обязателен")
	}
	if c.Telegram.Phone == "" {
		return fmt.Errorf("TG_PHONE обязателен")
	}
	if c.Forward.Source == "" {
		return fmt.Errorf("SOURCE_CHANNEL обязателен")
	}
	if _, err := domain.ParseChannelRef(c.Forward.Source); err != nil {
		return fmt.Errorf("SOURCE_CHANNEL: %w", err)
	}
	if len(c.Forward.Targets) == 0 {
		return fmt.Errorf("TARGET_CHANNELS: нужен хотя бы один канал назначения")
	}
	for _, raw := range c.Forward.Targets {
		if _, err := domain.ParseChannelRef(raw); err != nil {
			return fmt.Errorf("TARGET_CHANNELS: %q: %w", raw, err)
		}
	}
	if err := c.Range().Validate(); err != nil {
		return fmt.Errorf("диапазон сообщений: %w", err)
	}
	if c.Forward.Interval < 0 {
		return fmt.Errorf("MESSAGE_INTERVAL не может быть отрицательным")
	}
	if c.Forward.IdlePoll <= 0 {
		return fmt.Errorf("IDLE_POLL_INTERVAL должен быть положительным")
	}

	switch c.Proxy.Type {
	case "", "socks4", "socks5":
	default:
		return fmt.Errorf("PROXY_TYPE: поддерживаются socks4 и socks5, получен %q", c.Proxy.Type)
	}
	if c.Proxy.Type != "" {
		if c.Proxy.Addr == "" {
			return fmt.Errorf("PROXY_ADDR обязателен при включённом прокси")
		}
		host, port, err := net.SplitHostPort(c.Proxy.Addr)
		if err != nil || host == "" {
			return fmt.Errorf("PROXY_ADDR: ожидается host:port, получен %q", c.Proxy.Addr)
		}
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("PROXY_ADDR: порт вне диапазона 1..65535: %q", port)
		}
	}

	switch c.State.Driver {
	case "file":
		if c.State.Dir == "" {
			return fmt.Errorf("STATE_DIR обязателен для драйвера file")
		}
	case "sqlite":
		if c.State.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH обязателен для драйвера sqlite")
		}
	case "postgres":
		if c.State.PGDSN == "" {
			return fmt.Errorf("PG_DSN обязателен для драйвера postgres")
		}
	case "redis":
		if c.State.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR обязателен для драйвера redis")
		}
	default:
		return fmt.Errorf("STATE_DRIVER: неизвестный драйвер %q", c.State.Driver)
	}

	if c.Telegram.BotToken != "" && c.Telegram.AdminChatID == 0 {
		return fmt.Errorf("ADMIN_CHAT_ID обязателен при заданном TG_BOT_TOKEN")
	}
	return nil
}
