package notify

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sink delivers operator notifications. Delivery is strictly best-effort:
// no corrective action ever waits on, or fails because of, a notification.
type Sink interface {
	Notify(text string)
}

// Telegram sends messages to a fixed chat, falling back to an on-disk log
// when the API is unreachable so alerts survive network trouble.
type Telegram struct {
	api          *tgbotapi.BotAPI
	chatID       int64
	fallbackPath string

	mu sync.Mutex // serializes fallback file appends
}

// NewTelegram connects the bot API. A token/chat pair that fails to
// authorize returns an error; the caller decides whether to run without
// notifications.
func NewTelegram(token string, chatID int64, fallbackPath string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize: %w", err)
	}
	log.Printf("📣 telegram notifier ready (bot @%s)", api.Self.UserName)
	return &Telegram{api: api, chatID: chatID, fallbackPath: fallbackPath}, nil
}

// Notify sends asynchronously; a failed send lands in the fallback log.
func (t *Telegram) Notify(text string) {
	go func() {
		msg := tgbotapi.NewMessage(t.chatID, text)
		if _, err := t.api.Send(msg); err != nil {
			log.Printf("telegram send failed: %v", err)
			t.fallback(text, err)
		}
	}()
}

func (t *Telegram) fallback(text string, cause error) {
	if t.fallbackPath == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(t.fallbackPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("notify fallback open failed: %v", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\t%s\t(send error: %v)\n", time.Now().Format(time.RFC3339), text, cause)
}

// LogSink writes notifications to the process log only. Used when telegram
// is not configured.
type LogSink struct{}

func (LogSink) Notify(text string) { log.Printf("🔔 %s", text) }
