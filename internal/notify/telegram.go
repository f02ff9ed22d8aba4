package notify

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hybridbot/internal/domain"
)

// Telegram sends events to a chat through the Bot API. Delivery is
// fire-and-forget; failures are logged and dropped.
type Telegram struct {
	baseURL    string
	token      string
	chatID     string
	httpClient *http.Client
}

// NewTelegram creates a Telegram notifier. baseURL is overridable for tests;
// empty uses the public API host.
func NewTelegram(token, chatID, baseURL string) *Telegram {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Telegram{
		baseURL: baseURL,
		token:   token,
		chatID:  chatID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify sends one event. Never blocks the caller on delivery failures.
func (t *Telegram) Notify(event domain.Event) {
	msg := format(event)

	form := url.Values{
		"chat_id": {t.chatID},
		"text":    {msg},
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	resp, err := t.httpClient.PostForm(endpoint, form)
	if err != nil {
		slog.Warn("telegram send failed", slog.Any("error", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Warn("telegram send rejected", slog.Int("status", resp.StatusCode))
	}
}

func format(event domain.Event) string {
	var b strings.Builder
	switch event.Type {
	case domain.EventTrade:
		b.WriteString("[TRADE] ")
	case domain.EventRebalance:
		b.WriteString("[REBALANCE] ")
	case domain.EventError:
		b.WriteString("[ERROR] ")
	default:
		b.WriteString("[STATUS] ")
	}
	if event.Symbol != "" {
		b.WriteString(string(event.Symbol))
		b.WriteString(" ")
	}
	b.WriteString(event.Message)
	return b.String()
}

// Nop discards every event. Used when no notifier is configured.
type Nop struct{}

func (Nop) Notify(domain.Event) {}
