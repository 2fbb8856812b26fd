package vault

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"telegram-outreach-fleet/internal/domain"
)

// sqliteMagic is the first 16 bytes of every SQLite database file.
var sqliteMagic = []byte("SQLite format 3\x00")

// authKeyLen is the fixed MTProto auth key size.
const authKeyLen = 256

// SessionData is the connection identity extracted from either session shape.
type SessionData struct {
	DC      int
	Addr    string
	Port    int
	AuthKey []byte // exactly 256 bytes
}

// Normalize turns raw session bytes (Telethon SQLite file or string session)
// into the canonical string-session form.
func Normalize(raw []byte) (string, error) {
	if bytes.HasPrefix(raw, sqliteMagic) {
		data, err := ParseSQLiteSession(raw)
		if err != nil {
			return "", err
		}
		return EncodeStringSession(data)
	}
	s := strings.TrimSpace(string(raw))
	// round-trip through the decoder to validate the blob
	data, err := ParseStringSession(s)
	if err != nil {
		return "", err
	}
	return EncodeStringSession(data)
}

// ParseSQLiteSession reads the single sessions row out of a Telethon
// .session database.
func ParseSQLiteSession(raw []byte) (*SessionData, error) {
	dir, err := os.MkdirTemp("", "session-*")
	if err != nil {
		return nil, fmt.Errorf("session tmpdir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "import.session")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write session file: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	defer db.Close()

	var (
		dc      int
		addr    string
		port    int
		authKey []byte
	)
	row := db.QueryRow(`SELECT dc_id, server_address, port, auth_key FROM sessions LIMIT 1`)
	if err := row.Scan(&dc, &addr, &port, &authKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrSessionMalformed
		}
		return nil, fmt.Errorf("read sessions row: %w", err)
	}
	if len(authKey) != authKeyLen {
		return nil, fmt.Errorf("%w: auth key is %d bytes, want %d", domain.ErrSessionMalformed, len(authKey), authKeyLen)
	}
	return &SessionData{DC: dc, Addr: addr, Port: port, AuthKey: authKey}, nil
}

// ParseStringSession decodes a Telethon string session:
// '1' + base64url(dc:1 || ip:4|16 || port:2 || auth_key:256).
func ParseStringSession(s string) (*SessionData, error) {
	if len(s) < 2 || s[0] != '1' {
		return nil, domain.ErrSessionMalformed
	}
	b, err := base64.URLEncoding.DecodeString(s[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSessionMalformed, err)
	}
	var ipLen int
	switch len(b) {
	case 1 + 4 + 2 + authKeyLen:
		ipLen = 4
	case 1 + 16 + 2 + authKeyLen:
		ipLen = 16
	default:
		return nil, fmt.Errorf("%w: unexpected payload length %d", domain.ErrSessionMalformed, len(b))
	}
	dc := int(b[0])
	ip := net.IP(b[1 : 1+ipLen])
	port := int(binary.BigEndian.Uint16(b[1+ipLen : 3+ipLen]))
	key := make([]byte, authKeyLen)
	copy(key, b[3+ipLen:])
	return &SessionData{DC: dc, Addr: ip.String(), Port: port, AuthKey: key}, nil
}

// EncodeStringSession renders SessionData in the canonical string-session
// form understood by the client adapter.
func EncodeStringSession(d *SessionData) (string, error) {
	if d == nil || len(d.AuthKey) != authKeyLen {
		return "", domain.ErrSessionMalformed
	}
	ip := net.ParseIP(d.Addr)
	if ip == nil {
		return "", fmt.Errorf("%w: bad address %q", domain.ErrSessionMalformed, d.Addr)
	}
	packed := ip.To4()
	if packed == nil {
		packed = ip.To16()
	}
	buf := make([]byte, 0, 3+len(packed)+authKeyLen)
	buf = append(buf, byte(d.DC))
	buf = append(buf, packed...)
	var portBE [2]byte
	binary.BigEndian.PutUint16(portBE[:], uint16(d.Port))
	buf = append(buf, portBE[:]...)
	buf = append(buf, d.AuthKey...)
	return "1" + base64.URLEncoding.EncodeToString(buf), nil
}
