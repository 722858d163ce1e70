package mtproto

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
	_ "github.com/mattn/go-sqlite3"
)

// ErrUnsupportedSessionFormat is returned when session data can't be recognised
// as any of the supported formats.
var ErrUnsupportedSessionFormat = fmt.Errorf("unsupported MTProto session format")

// sqliteMagic is the header every SQLite database file starts with.
var sqliteMagic = []byte("SQLite format 3\x00")

// NormalizeSessionBytes converts an MTProto session blob into the JSON format
// gotd session.Storage expects. Supported inputs: gotd JSON (passed through
// untouched), Telethon string sessions, Telethon JSON exports and Telethon
// SQLite .session files. The second return value reports whether a conversion
// took place.
func NormalizeSessionBytes(raw []byte) ([]byte, bool, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false, fmt.Errorf("MTProto session is empty")
	}

	if bytes.HasPrefix(raw, sqliteMagic) {
		out, err := fromTelethonSessionDB(raw)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	}

	trimmed := bytes.TrimSpace(raw)

	var gotd struct {
		Version int `json:"Version"`
	}
	if err := json.Unmarshal(trimmed, &gotd); err == nil && gotd.Version != 0 {
		return append([]byte(nil), trimmed...), false, nil
	}

	for _, convert := range []func([]byte) ([]byte, error){
		fromTelethonAccountJSON,
		fromTelethonRowsJSON,
		fromTelethonString,
	} {
		if out, err := convert(trimmed); err == nil {
			return out, true, nil
		}
	}
	return nil, false, ErrUnsupportedSessionFormat
}

// fromTelethonSessionDB reads the sessions table of a Telethon .session file.
// The sqlite driver wants a path, so the blob goes through a temp file.
func fromTelethonSessionDB(raw []byte) ([]byte, error) {
	tmp, err := os.CreateTemp("", "telethon-*.session")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", "file:"+tmp.Name()+"?mode=ro")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var (
		dcID    int
		address string
		port    int
		authKey []byte
	)
	err = db.QueryRow(`SELECT dc_id, server_address, port, auth_key FROM sessions WHERE auth_key IS NOT NULL LIMIT 1`).
		Scan(&dcID, &address, &port, &authKey)
	if err != nil {
		return nil, fmt.Errorf("telethon session db: %w", err)
	}
	return gotdSessionJSON(dcID, address, port, authKey)
}

// fromTelethonAccountJSON handles account export JSON where the string
// session hides inside extra_params.
func fromTelethonAccountJSON(raw []byte) ([]byte, error) {
	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	if account.ExtraParams == "" {
		return nil, fmt.Errorf("telethon account JSON lacks extra_params")
	}
	return fromTelethonString([]byte(account.ExtraParams))
}

// fromTelethonRowsJSON handles a JSON dump of the Telethon sessions table,
// with the auth key hex-encoded.
func fromTelethonRowsJSON(raw []byte) ([]byte, error) {
	var rows []struct {
		DCID          int    `json:"dc_id"`
		ServerAddress string `json:"server_address"`
		Port          int    `json:"port"`
		AuthKey       string `json:"auth_key"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		keyHex := strings.Trim(strings.TrimSpace(row.AuthKey), "'\"")
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("decode auth_key: %w", err)
		}
		return gotdSessionJSON(row.DCID, row.ServerAddress, row.Port, key)
	}
	return nil, fmt.Errorf("telethon session JSON has no usable rows")
}

// fromTelethonString decodes a Telethon StringSession.
func fromTelethonString(raw []byte) ([]byte, error) {
	candidate := strings.Trim(strings.TrimSpace(string(raw)), "\"'\n\r\t")
	if candidate == "" {
		return nil, fmt.Errorf("telethon session string is empty")
	}

	data, err := session.TelethonSession(candidate)
	if err != nil {
		return nil, err
	}

	// String sessions carry a single DC address and no config; fill in the
	// minimum gotd needs to dial.
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if data.Addr != "" && len(data.Config.DCOptions) == 0 {
		if host, portStr, err := net.SplitHostPort(data.Addr); err == nil {
			if port, convErr := strconv.Atoi(portStr); convErr == nil {
				data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
			}
		}
	}
	return wrapSessionData(*data)
}

// gotdSessionJSON assembles gotd session JSON from the parts Telethon stores.
func gotdSessionJSON(dcID int, host string, port int, rawKey []byte) ([]byte, error) {
	var key crypto.Key
	if len(rawKey) != len(key) {
		return nil, fmt.Errorf("unexpected auth_key length: %d bytes", len(rawKey))
	}
	copy(key[:], rawKey)
	keyID := key.WithID().ID

	data := session.Data{
		Config: session.Config{
			ThisDC:    dcID,
			DCOptions: []tg.DCOption{{ID: dcID, IPAddress: host, Port: port}},
		},
		DC:        dcID,
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), keyID[:]...),
	}
	return wrapSessionData(data)
}

func wrapSessionData(data session.Data) ([]byte, error) {
	return json.Marshal(struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}{Version: 1, Data: data})
}
