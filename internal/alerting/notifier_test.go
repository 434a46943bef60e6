package alerting

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"collectible-pricing/internal/models"
)

type telegramStub struct {
	mu       sync.Mutex
	sent     []map[string]string
	failSend bool
}

func (s *telegramStub) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"pricewatch","username":"pricewatch_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if s.failSend {
				_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
				return
			}
			s.mu.Lock()
			s.sent = append(s.sent, map[string]string{"chat_id": r.PostForm.Get("chat_id"), "text": r.PostForm.Get("text")})
			s.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":1,"type":"private"}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTelegram(t *testing.T, stub *telegramStub) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	n, err := NewTelegramNotifier(TelegramOptions{
		BotToken:      "token",
		DefaultChatID: "100",
		Recipients:    map[string]string{"u1": "200", "team": "@pricewatch"},
		APIBase:       srv.URL,
		Timeout:       time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造 notifier 失败: %v", err)
	}
	return n
}

func TestTelegramNotifierRoutesByUser(t *testing.T) {
	stub := &telegramStub{}
	n := newTelegram(t, stub)
	ctx := context.Background()

	for _, user := range []string{"u1", "someone-else", "team"} {
		res, err := n.Notify(ctx, user, "title", "body", map[string]string{"b": "2", "a": "1"})
		if err != nil || res.Sent != 1 {
			t.Fatalf("notify %s: %v %v", user, res, err)
		}
	}

	if len(stub.sent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(stub.sent))
	}
	if stub.sent[0]["chat_id"] != "200" || stub.sent[1]["chat_id"] != "100" || stub.sent[2]["chat_id"] != "@pricewatch" {
		t.Fatalf("chat routing wrong: %#v", stub.sent)
	}
	if text := stub.sent[0]["text"]; !strings.Contains(text, "title\nbody") || strings.Index(text, "a: 1") > strings.Index(text, "b: 2") {
		t.Fatalf("text 格式不正确: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	n := newTelegram(t, &telegramStub{failSend: true})
	if _, err := n.Notify(context.Background(), "u1", "t", "b", nil); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierNoRecipient(t *testing.T) {
	stub := &telegramStub{}
	n := newTelegram(t, stub)
	n.defaultChat = ""
	if _, err := n.Notify(context.Background(), "stranger", "t", "b", nil); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestNewTelegramNotifierRequiresToken(t *testing.T) {
	if _, err := NewTelegramNotifier(TelegramOptions{}, zerolog.Nop()); err == nil {
		t.Fatal("missing token should fail")
	}
}

func TestRenderEvent(t *testing.T) {
	prev := int64(9950)
	pct := 5.526
	title, body, data := RenderEvent(models.AlertEvent{
		ID:                 "e1",
		AlertID:            "a1",
		ItemID:             "75192-1",
		Condition:          models.ConditionSealed,
		TriggeredAt:        time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		PriceCents:         10500,
		PreviousPriceCents: &prev,
		PercentChange:      &pct,
	})
	if title != "[Price Alert] 75192-1 (SEALED)" {
		t.Fatalf("title = %q", title)
	}
	for _, want := range []string{"Estimate: $105.00", "Previous: $99.50", "Change: 5.53%", "2024-06-01T09:00:00Z"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q: %s", want, body)
		}
	}
	if data["price_cents"] != "10500" || data["event_id"] != "e1" {
		t.Fatalf("data = %#v", data)
	}
}
