package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const maxMessageLen = 4096

// SendMessage sends text in chunks, as Telegram Markdown when it parses and
// as plain text otherwise.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkMessage(text, maxMessageLen) {
		msg := tu.Message(tu.ID(chatID), toTelegramMarkdown(chunk)).WithParseMode(telego.ModeMarkdown)
		if _, err := b.bot.SendMessage(ctx, msg); err != nil {
			slog.Debug("markdown send failed, retrying as plain text", "chat", chatID, "error", err)
			if _, err := b.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
		}
	}
	return nil
}

// chunkMessage splits a message into chunks that fit within Telegram's
// message size limit, preferring newline boundaries and never splitting a
// UTF-8 sequence.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		} else {
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

var (
	boldRe    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	headingRe = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
)

// toTelegramMarkdown rewrites report markdown into Telegram's legacy
// Markdown: **bold** becomes *bold* and headings become bold lines.
func toTelegramMarkdown(s string) string {
	s = boldRe.ReplaceAllString(s, "*$1*")
	return headingRe.ReplaceAllString(s, "*$1*")
}
