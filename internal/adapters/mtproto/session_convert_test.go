package mtproto

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gotd/td/session"
)

type sessionPayload struct {
	Version int
	Data    session.Data
}

func decodeSession(t *testing.T, raw []byte) sessionPayload {
	t.Helper()
	var payload sessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("конвертированная сессия не разбирается: %v", err)
	}
	return payload
}

func TestNormalizeSessionBytesGotdPassthrough(t *testing.T) {
	raw := []byte(`{"Version":1,"Data":{"DC":2}}`)

	got, converted, err := NormalizeSessionBytes(raw)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if converted {
		t.Fatalf("родной формат не должен конвертироваться")
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("родной формат должен возвращаться как есть")
	}
}

func TestNormalizeSessionBytesTelethonJSON(t *testing.T) {
	authKey := bytes.Repeat([]byte{0xAB}, 256)
	raw := fmt.Sprintf(
		`[{"dc_id":2,"server_address":"149.154.167.51","port":443,"auth_key":"%s"}]`,
		hex.EncodeToString(authKey),
	)

	got, converted, err := NormalizeSessionBytes([]byte(raw))
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !converted {
		t.Fatalf("ожидали конвертацию telethon JSON")
	}

	payload := decodeSession(t, got)
	if payload.Version != 1 {
		t.Fatalf("ожидали Version 1, получили %d", payload.Version)
	}
	if payload.Data.DC != 2 {
		t.Fatalf("ожидали DC 2, получили %d", payload.Data.DC)
	}
	if payload.Data.Addr != "149.154.167.51:443" {
		t.Fatalf("неожиданный адрес %q", payload.Data.Addr)
	}
	if !bytes.Equal(payload.Data.AuthKey, authKey) {
		t.Fatalf("ключ авторизации искажён при конвертации")
	}
	if len(payload.Data.AuthKeyID) != 8 {
		t.Fatalf("ожидали 8 байт id ключа, получили %d", len(payload.Data.AuthKeyID))
	}
	if payload.Data.Config.ThisDC != 2 {
		t.Fatalf("ожидали ThisDC 2, получили %d", payload.Data.Config.ThisDC)
	}
}

func TestNormalizeSessionBytesTelethonString(t *testing.T) {
	// Формат StringSession: dc(1) + ip(4) + port(2, big endian) + key(256).
	buf := make([]byte, 0, 263)
	buf = append(buf, 2)
	buf = append(buf, 1, 2, 3, 4)
	buf = binary.BigEndian.AppendUint16(buf, 443)
	buf = append(buf, bytes.Repeat([]byte{0xCD}, 256)...)
	raw := "1" + base64.URLEncoding.EncodeToString(buf)

	got, converted, err := NormalizeSessionBytes([]byte(raw))
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !converted {
		t.Fatalf("ожидали конвертацию строковой сессии")
	}

	payload := decodeSession(t, got)
	if payload.Data.DC != 2 {
		t.Fatalf("ожидали DC 2, получили %d", payload.Data.DC)
	}
	if payload.Data.Addr != "1.2.3.4:443" {
		t.Fatalf("неожиданный адрес %q", payload.Data.Addr)
	}
	if payload.Data.Config.ThisDC != 2 {
		t.Fatalf("ожидали ThisDC 2, получили %d", payload.Data.Config.ThisDC)
	}
	if len(payload.Data.Config.DCOptions) != 1 || payload.Data.Config.DCOptions[0].IPAddress != "1.2.3.4" {
		t.Fatalf("ожидали DCOption с адресом из сессии, получили %+v", payload.Data.Config.DCOptions)
	}
}

func TestNormalizeSessionBytesTelethonSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forwarder.session")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("открытие sqlite: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE sessions (dc_id integer primary key, server_address text, port integer, auth_key blob, takeout_id integer)`); err != nil {
		t.Fatalf("создание таблицы: %v", err)
	}
	authKey := bytes.Repeat([]byte{0x5F}, 256)
	if _, err := db.Exec(`INSERT INTO sessions (dc_id, server_address, port, auth_key) VALUES (2, '149.154.167.51', 443, ?)`, authKey); err != nil {
		t.Fatalf("вставка сессии: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("закрытие sqlite: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("чтение файла сессии: %v", err)
	}

	got, converted, err := NormalizeSessionBytes(raw)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !converted {
		t.Fatalf("ожидали конвертацию telethon .session")
	}

	payload := decodeSession(t, got)
	if payload.Data.DC != 2 {
		t.Fatalf("ожидали DC 2, получили %d", payload.Data.DC)
	}
	if payload.Data.Addr != "149.154.167.51:443" {
		t.Fatalf("неожиданный адрес %q", payload.Data.Addr)
	}
	if !bytes.Equal(payload.Data.AuthKey, authKey) {
		t.Fatalf("ключ авторизации искажён при конвертации")
	}
	if payload.Data.Config.ThisDC != 2 {
		t.Fatalf("ожидали ThisDC 2, получили %d", payload.Data.Config.ThisDC)
	}
}

func TestNormalizeSessionBytesRejectsGarbage(t *testing.T) {
	_, _, err := NormalizeSessionBytes([]byte("definitely not a session"))
	if !errors.Is(err, ErrUnsupportedSessionFormat) {
		t.Fatalf("ожидали ErrUnsupportedSessionFormat, получили %v", err)
	}
}

func TestNormalizeSessionBytesRejectsEmpty(t *testing.T) {
	if _, _, err := NormalizeSessionBytes(nil); err == nil {
		t.Fatalf("ожидали ошибку на пустом вводе")
	}

	if _, _, err := NormalizeSessionBytes([]byte("  \n")); err == nil {
		t.Fatalf("ожидали ошибку на пробельном вводе")
	}
}
