// Package telegram posts finished runs to a chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxAlbum is the most photos Telegram accepts in one media group.
const maxAlbum = 10

type Options struct {
	Token  string
	ChatID int64
	// Endpoint overrides tgbotapi.APIEndpoint.
	Endpoint   string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Debug      bool
}

type Publisher struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

func New(opts Options) (*Publisher, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if opts.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if opts.HTTPClient == nil {
		return nil, errors.New("http client is nil")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	bot.Debug = opts.Debug

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Publisher{bot: bot, chatID: opts.ChatID, logger: logger}, nil
}

func (p *Publisher) Username() string {
	return p.bot.Self.UserName
}

// Publish sends caption as text, then the images as albums of up to ten.
func (p *Publisher) Publish(ctx context.Context, caption string, images []string) error {
	if err := p.sendText(caption); err != nil {
		return fmt.Errorf("send caption: %w", err)
	}

	total := (len(images) + maxAlbum - 1) / maxAlbum
	for n, start := 0, 0; start < len(images); n, start = n+1, start+maxAlbum {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := images[start:min(start+maxAlbum, len(images))]
		label := ""
		if total > 1 {
			label = fmt.Sprintf("%d/%d", n+1, total)
		}
		if err := p.sendAlbum(chunk, label); err != nil {
			return fmt.Errorf("send album %d: %w", n+1, err)
		}
	}

	p.logger.Info("run published", "chat_id", p.chatID, "images", len(images))
	return nil
}

func (p *Publisher) sendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	for _, part := range splitByBytes(text, 4096) {
		if _, err := p.bot.Send(tgbotapi.NewMessage(p.chatID, part)); err != nil {
			return err
		}
	}
	return nil
}

// sendAlbum falls back to a single photo because media groups need at least
// two items.
func (p *Publisher) sendAlbum(paths []string, caption string) error {
	files := make([]tgbotapi.FileBytes, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, tgbotapi.FileBytes{Name: filepath.Base(path), Bytes: data})
	}

	if len(files) == 1 {
		photo := tgbotapi.NewPhoto(p.chatID, files[0])
		photo.Caption = truncateByBytes(caption, 1024)
		_, err := p.bot.Send(photo)
		return err
	}

	media := make([]interface{}, 0, len(files))
	for i, f := range files {
		item := tgbotapi.NewInputMediaPhoto(f)
		if i == 0 {
			item.Caption = truncateByBytes(caption, 1024)
		}
		media = append(media, item)
	}
	_, err := p.bot.SendMediaGroup(tgbotapi.NewMediaGroup(p.chatID, media))
	return err
}

func splitByBytes(text string, maxBytes int) []string {
	if len([]byte(text)) <= maxBytes || maxBytes <= 0 {
		return []string{text}
	}

	var out []string
	var buf strings.Builder
	buf.Grow(maxBytes)

	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len([]byte(string(r)))
		}

		if buf.Len() > 0 && buf.Len()+runeBytes > maxBytes {
			out = append(out, buf.String())
			buf.Reset()
		}
		buf.WriteRune(r)
	}

	if buf.Len() > 0 {
		out = append(out, buf.String())
	}

	return out
}

func truncateByBytes(text string, maxBytes int) string {
	if len([]byte(text)) <= maxBytes || maxBytes <= 0 {
		return text
	}

	var buf strings.Builder
	buf.Grow(maxBytes)
	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len([]byte(string(r)))
		}

		if buf.Len()+runeBytes > maxBytes {
			break
		}
		buf.WriteRune(r)
	}
	return buf.String()
}
