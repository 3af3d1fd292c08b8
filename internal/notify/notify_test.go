package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"paper-trader/internal/config"
	"paper-trader/internal/models"
)

type recordingChannel struct {
	name string
	err  error

	mu   sync.Mutex
	got  []Notification
	wait time.Duration
}

func (r *recordingChannel) Name() string    { return r.name }
func (r *recordingChannel) IsEnabled() bool { return true }

func (r *recordingChannel) Send(ctx context.Context, n Notification) error {
	if r.wait > 0 {
		time.Sleep(r.wait)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestLevelFilter(t *testing.T) {
	tests := []struct {
		level NotificationLevel
		typ   NotificationType
		want  bool
	}{
		{LevelAll, NotificationSummary, true},
		{LevelAll, NotificationError, true},
		{LevelTradesOnly, NotificationTrade, true},
		{LevelTradesOnly, NotificationExit, true},
		{LevelTradesOnly, NotificationSummary, false},
		{LevelTradesOnly, NotificationError, false},
		{LevelErrorsOnly, NotificationError, true},
		{LevelErrorsOnly, NotificationTrade, false},
	}
	for _, tt := range tests {
		if got := tt.level.Allows(tt.typ); got != tt.want {
			t.Errorf("%s.Allows(%s) = %v, want %v", tt.level, tt.typ, got, tt.want)
		}
	}
}

func TestMultiNotifierCombinesErrors(t *testing.T) {
	mn := NewMultiNotifier(config.NotificationConfig{Level: "all"})
	good := &recordingChannel{name: "good"}
	bad1 := &recordingChannel{name: "bad1", err: errors.New("boom")}
	bad2 := &recordingChannel{name: "bad2", err: errors.New("bang")}
	mn.AddChannel(bad1)
	mn.AddChannel(good)
	mn.AddChannel(bad2)

	err := mn.Notify(context.Background(), Notification{Type: NotificationTrade, Title: "t"})
	if err == nil {
		t.Fatal("expected combined error")
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Errorf("got %d errors, want 2: %v", n, err)
	}
	if good.count() != 1 {
		t.Errorf("healthy channel should still receive the notification")
	}
}

func TestMultiNotifierRespectsLevel(t *testing.T) {
	mn := NewMultiNotifier(config.NotificationConfig{Level: "errors_only"})
	ch := &recordingChannel{name: "ch"}
	mn.AddChannel(ch)

	_ = mn.Notify(context.Background(), Notification{Type: NotificationTrade})
	_ = mn.Notify(context.Background(), Notification{Type: NotificationError})
	if ch.count() != 1 {
		t.Errorf("got %d notifications, want 1", ch.count())
	}
}

func TestWebhookChannelPostsJSON(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookConfig{Enabled: true, URL: srv.URL})
	err := ch.Send(context.Background(), Notification{Type: NotificationExit, Title: "Exit", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if body["type"] != "exit" || body["title"] != "Exit" {
		t.Errorf("unexpected payload %v", body)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	ch = NewWebhookChannel(config.WebhookConfig{Enabled: true, URL: failing.URL})
	if err := ch.Send(context.Background(), Notification{}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestTelegramChannelEscapesHTML(t *testing.T) {
	var payload map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer srv.Close()

	ch := NewTelegramChannel(config.TelegramConfig{Enabled: true, BotToken: "TOKEN", ChatID: "42"})
	ch.baseURL = srv.URL

	err := ch.Send(context.Background(), Notification{Title: "P&L <up>", Message: "a > b"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if payload["chat_id"] != "42" || payload["parse_mode"] != "HTML" {
		t.Errorf("payload = %v", payload)
	}
	if !strings.Contains(payload["text"], "<b>P&amp;L &lt;up&gt;</b>") || !strings.Contains(payload["text"], "a &gt; b") {
		t.Errorf("text not escaped: %q", payload["text"])
	}
}

func TestChannelsDisabledWithoutCredentials(t *testing.T) {
	if NewTelegramChannel(config.TelegramConfig{Enabled: true}).IsEnabled() {
		t.Error("telegram without token should be disabled")
	}
	if NewEmailChannel(config.EmailConfig{Enabled: true, SMTPHost: "smtp"}).IsEnabled() {
		t.Error("email without addresses should be disabled")
	}
	if NewWebhookChannel(config.WebhookConfig{Enabled: true}).IsEnabled() {
		t.Error("webhook without url should be disabled")
	}
}

func TestAsyncNotifierDrainsOnClose(t *testing.T) {
	ch := &recordingChannel{name: "slow", wait: 5 * time.Millisecond}
	mn := NewMultiNotifier(config.NotificationConfig{})
	mn.AddChannel(ch)
	a := NewAsyncNotifier(mn, 16, zerolog.Nop())

	for i := 0; i < 10; i++ {
		if err := a.Notify(context.Background(), Notification{Type: NotificationSummary}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ch.count() != 10 {
		t.Errorf("delivered %d, want 10", ch.count())
	}
	if err := a.Notify(context.Background(), Notification{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Notify after Close: %v", err)
	}
}

func TestAsyncNotifierDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	blocking := notifierFunc(func(ctx context.Context, n Notification) error {
		<-block
		return nil
	})
	a := NewAsyncNotifier(blocking, 1, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 20; i++ {
		_ = a.Notify(context.Background(), Notification{})
	}
	if time.Since(start) > time.Second {
		t.Error("Notify blocked on a full queue")
	}
	close(block)
	_ = a.Close(context.Background())
}

type notifierFunc func(ctx context.Context, n Notification) error

func (f notifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

func TestTradeNotificationContent(t *testing.T) {
	rec := models.TradeRecord{
		Symbol:         "RELIANCE",
		Action:         models.ActionSell,
		Price:          decimal.NewFromInt(2320),
		Quantity:       10,
		Commission:     decimal.RequireFromString("23.20"),
		PnL:            decimal.RequireFromString("-1347.70"),
		PortfolioValue: decimal.RequireFromString("98652.30"),
		Reason:         "Stop loss triggered",
	}
	n := ExitExecuted(rec)
	if n.Type != NotificationExit {
		t.Errorf("type = %s", n.Type)
	}
	if !strings.Contains(n.Message, "-₹1,347.70") {
		t.Errorf("message missing P&L: %q", n.Message)
	}
	if n.Data["pnl"] != "-1347.70" {
		t.Errorf("pnl data = %v", n.Data["pnl"])
	}
}

func TestTerminalChannel(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	ch := NewTerminalChannel(&buf, false)

	err := ch.Send(context.Background(), EngineState(true, "manual stop"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Trading paused") || !strings.Contains(out, "manual stop") {
		t.Errorf("unexpected output %q", out)
	}
}
