// Package mtproto подключает форвардер к Telegram через gotd: клиент,
// авторизация, прокси и операции над каналами.
package mtproto

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
	"h12.io/socks"

	"tg-forwarder/internal/domain"
)

// ClientConfig описывает подключение и авторизацию MTProto клиента.
type ClientConfig struct {
	APIID       int
	APIHash     string
	Phone       string
	Password    string
	SessionName string

	ProxyType     string // socks4, socks5 или пусто
	ProxyAddr     string // host:port
	ProxyUser     string
	ProxyPassword string

	Debug bool
}

// Client владеет соединением с Telegram и жизненным циклом сессии.
type Client struct {
	tg  *telegram.Client
	cfg ClientConfig
	log zerolog.Logger
}

// NewClient собирает gotd клиент: сессия хранится в выбранном бекенде
// состояния, соединение при необходимости идёт через SOCKS прокси.
func NewClient(cfg ClientConfig, sessions domain.SessionStore, log zerolog.Logger) (*Client, error) {
	opts := telegram.Options{
		SessionStorage: &sessionStorage{name: cfg.SessionName, store: sessions},
		NoUpdates:      true,
	}

	dial, err := proxyDial(cfg)
	if err != nil {
		return nil, err
	}
	if dial != nil {
		opts.Resolver = dcs.Plain(dcs.PlainOptions{Dial: dial})
		log.Info().Str("type", cfg.ProxyType).Str("addr", cfg.ProxyAddr).Msg("mtproto: соединение через прокси")
	}

	if cfg.Debug {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("отладочный логгер mtproto: %w", err)
		}
		opts.Logger = zl
	}

	return &Client{
		tg:  telegram.NewClient(cfg.APIID, cfg.APIHash, opts),
		cfg: cfg,
		log: log,
	}, nil
}

// Run держит соединение открытым и выполняет fn после авторизации.
// Возврат из fn закрывает соединение.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.tg.Run(ctx, func(ctx context.Context) error {
		if err := c.authorize(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
}

// API возвращает низкоуровневый RPC клиент. Вызовы проходят только пока
// Run держит соединение.
func (c *Client) API() *tg.Client {
	return c.tg.API()
}

// authorize проводит авторизацию по телефону, если сохранённой сессии нет.
// Код подтверждения запрашивается из терминала.
func (c *Client) authorize(ctx context.Context) error {
	flow := auth.NewFlow(
		auth.Constant(c.cfg.Phone, c.cfg.Password, auth.CodeAuthenticatorFunc(askCode)),
		auth.SendCodeOptions{},
	)
	if err := c.tg.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("авторизация: %w", err)
	}

	self, err := c.tg.Self(ctx)
	if err != nil {
		return fmt.Errorf("профиль аккаунта: %w", err)
	}
	c.log.Info().Int64("user_id", self.ID).Str("username", self.Username).Msg("mtproto: авторизован")
	return nil
}

func askCode(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Fprint(os.Stderr, "Код подтверждения из Telegram: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("чтение кода подтверждения: %w", err)
	}
	return strings.TrimSpace(code), nil
}

// sessionStorage адаптирует бекенд состояния к интерфейсу сессий gotd.
type sessionStorage struct {
	name  string
	store domain.SessionStore
}

var _ session.Storage = (*sessionStorage)(nil)

func (s *sessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	raw, err := s.store.LoadSessionBlob(ctx, s.name)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *sessionStorage) StoreSession(ctx context.Context, data []byte) error {
	return s.store.StoreSessionBlob(ctx, s.name, data)
}

// proxyDial возвращает функцию соединения через настроенный прокси
// или nil, когда прокси не задан.
func proxyDial(cfg ClientConfig) (dcs.DialFunc, error) {
	switch cfg.ProxyType {
	case "":
		return nil, nil
	case "socks5":
		return socks5Dial(cfg)
	case "socks4":
		return socks4Dial(cfg), nil
	default:
		return nil, fmt.Errorf("неизвестный тип прокси %q", cfg.ProxyType)
	}
}

func socks5Dial(cfg ClientConfig) (dcs.DialFunc, error) {
	var creds *proxy.Auth
	if cfg.ProxyUser != "" || cfg.ProxyPassword != "" {
		creds = &proxy.Auth{User: cfg.ProxyUser, Password: cfg.ProxyPassword}
	}
	dialer, err := proxy.SOCKS5("tcp", cfg.ProxyAddr, creds, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 прокси %s: %w", cfg.ProxyAddr, err)
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 прокси %s: диалер без поддержки контекста", cfg.ProxyAddr)
	}
	return contextDialer.DialContext, nil
}

func socks4Dial(cfg ClientConfig) dcs.DialFunc {
	uri := "socks4://" + cfg.ProxyAddr + "?timeout=10s"
	if cfg.ProxyUser != "" {
		uri = "socks4://" + url.User(cfg.ProxyUser).String() + "@" + cfg.ProxyAddr + "?timeout=10s"
	}
	dial := socks.Dial(uri)
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		// SOCKS4 диалер не принимает контекст, проверяем отмену хотя бы до звонка.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return dial(network, addr)
	}
}
