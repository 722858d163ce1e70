package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"tg-forwarder/internal/adapters/mtproto"
	"tg-forwarder/internal/adapters/state"
	"tg-forwarder/internal/infra/config"
)

func main() {
	var (
		filePath    string
		sessionName string
	)
	flag.StringVar(&filePath, "file", "", "Path to MTProto session file (gotd JSON, Telethon .session, JSON export or string session)")
	flag.StringVar(&sessionName, "name", "", "Session name, defaults to TG_SESSION_NAME")
	flag.Parse()

	if filePath == "" {
		log.Fatal().Msg("session-importer: path to session file is required (-file)")
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("session-importer: failed to read session file")
	}
	normalized, converted, err := mtproto.NormalizeSessionBytes(raw)
	if err != nil {
		log.Fatal().Err(err).Msg("session-importer: unsupported MTProto session format")
	}

	cfg := config.Load()
	if sessionName == "" {
		sessionName = cfg.Telegram.SessionName
	}

	store, err := state.Open(state.Config{
		Driver:     cfg.State.Driver,
		Dir:        cfg.State.Dir,
		SQLitePath: cfg.State.SQLitePath,
		PGDSN:      cfg.State.PGDSN,
		RedisAddr:  cfg.State.RedisAddr,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.State.Driver).Msg("session-importer: failed to open state store")
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.StoreSessionBlob(ctx, sessionName, normalized); err != nil {
		log.Fatal().Err(err).Msg("session-importer: failed to store session")
	}

	if converted {
		fmt.Println("Session was converted to gotd JSON format before storing")
	}
	fmt.Printf("Stored MTProto session %q (%d bytes) in %s state store\n", sessionName, len(normalized), cfg.State.Driver)
}
