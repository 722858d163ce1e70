package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ChannelRefKind — вид ссылки на канал из конфигурации.
type ChannelRefKind int

const (
	RefUsername ChannelRefKind = iota
	RefChannelID
	RefInviteHash
)

// ChannelRef — неразрешённая ссылка на канал. До первой отправки обязана
// быть разрешена транспортом ровно в один ChannelIdentity.
type ChannelRef struct {
	Kind       ChannelRefKind
	Username   string
	ChannelID  int64 // без служебного префикса -100
	InviteHash string
	Raw        string
}

func (r ChannelRef) String() string {
	if r.Raw != "" {
		return r.Raw
	}
	switch r.Kind {
	case RefUsername:
		return "@" + r.Username
	case RefInviteHash:
		return "t.me/+" + r.InviteHash
	default:
		return strconv.FormatInt(r.ChannelID, 10)
	}
}

var (
	usernamePattern   = regexp.MustCompile(`(?i)^[a-z][a-z0-9_]{4,31}$`)
	inviteHashPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{5,}$`)
)

// ParseChannelRef разбирает ссылку на канал в любом поддерживаемом виде:
// @username, username, https://t.me/username, t.me/c/<id>, t.me/+<hash>,
// t.me/joinchat/<hash>, -100<id>, голый числовой id. Хвостовые идентификаторы
// сообщений в ссылках отбрасываются.
func ParseChannelRef(raw string) (ChannelRef, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ChannelRef{}, fmt.Errorf("%w: пустая строка", ErrChannelRefInvalid)
	}
	ref := ChannelRef{Raw: s}

	if id, ok := parseNumericID(s); ok {
		ref.Kind = RefChannelID
		ref.ChannelID = id
		return ref, nil
	}
	if rest, ok := stripLinkPrefix(s); ok {
		return parseLinkPath(ref, rest)
	}

	name := strings.TrimPrefix(s, "@")
	if !usernamePattern.MatchString(name) {
		return ChannelRef{}, fmt.Errorf("%w: %q", ErrChannelRefInvalid, raw)
	}
	ref.Kind = RefUsername
	ref.Username = name
	return ref, nil
}

func parseNumericID(s string) (int64, bool) {
	t := strings.TrimPrefix(s, "-100")
	if t == s {
		t = strings.TrimPrefix(s, "-")
	}
	if t == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(t, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func stripLinkPrefix(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, p := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(lower, p) {
			return s[len(p):], true
		}
	}
	return "", false
}

func parseLinkPath(ref ChannelRef, path string) (ChannelRef, error) {
	path = strings.TrimSuffix(path, "/")
	switch {
	case strings.HasPrefix(path, "c/"):
		part, _, _ := strings.Cut(strings.TrimPrefix(path, "c/"), "/")
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return ChannelRef{}, fmt.Errorf("%w: %q", ErrChannelRefInvalid, ref.Raw)
		}
		ref.Kind = RefChannelID
		ref.ChannelID = id
		return ref, nil
	case strings.HasPrefix(path, "+"):
		return inviteRef(ref, strings.TrimPrefix(path, "+"))
	case strings.HasPrefix(path, "joinchat/"):
		return inviteRef(ref, strings.TrimPrefix(path, "joinchat/"))
	default:
		name, _, _ := strings.Cut(path, "/")
		if !usernamePattern.MatchString(name) {
			return ChannelRef{}, fmt.Errorf("%w: %q", ErrChannelRefInvalid, ref.Raw)
		}
		ref.Kind = RefUsername
		ref.Username = name
		return ref, nil
	}
}

func inviteRef(ref ChannelRef, hash string) (ChannelRef, error) {
	if !inviteHashPattern.MatchString(hash) {
		return ChannelRef{}, fmt.Errorf("%w: %q", ErrChannelRefInvalid, ref.Raw)
	}
	ref.Kind = RefInviteHash
	ref.InviteHash = hash
	return ref, nil
}
