package notify

import "strings"

// Telegram caps message text at 4096 characters.
const messageLimit = 4096

// SplitMessage breaks text into chunks that fit Telegram's message size
// limit, keeping whole lines together where possible. Oversized single
// lines are hard-split by runes.
func SplitMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len([]rune(text)) <= messageLimit {
		return []string{text}
	}

	var (
		parts []string
		buf   []rune
	)
	flush := func() {
		chunk := strings.Trim(string(buf), "\n")
		if chunk != "" {
			parts = append(parts, chunk)
		}
		buf = buf[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		for len(runes) > messageLimit {
			flush()
			parts = append(parts, string(runes[:messageLimit]))
			runes = runes[messageLimit:]
		}
		if len(buf) > 0 && len(buf)+1+len(runes) > messageLimit {
			flush()
		}
		if len(buf) > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, runes...)
	}
	flush()

	return parts
}
