package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/driftline/driftline/model"
	"github.com/driftline/driftline/netretry"
)

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPClient(HTTPClientConfig{
		BaseURL:   server.URL,
		AuthToken: "test-token",
	}, zap.NewNop())
}

func TestListConversationsDecodesPage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/convos" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("auth header = %q", got)
		}
		if got := r.URL.Query().Get("cursor"); got != "cur-1" {
			t.Errorf("cursor = %q, want cur-1", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"convos": []map[string]any{{
				"id":  "c1",
				"rev": "rev-1",
				"members": []map[string]any{{
					"id": "did:alice", "handle": "alice.example",
					"indexedAt": "2026-08-01T12:00:00Z",
				}},
				"unreadCount": 2,
			}},
			"cursor": "cur-2",
		})
	}))

	page, err := client.ListConversations(context.Background(), PageRequest{Cursor: "cur-1", Limit: 10})
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "c1" {
		t.Fatalf("items = %+v", page.Items)
	}
	if page.Items[0].UnreadCount != 2 {
		t.Errorf("unread = %d", page.Items[0].UnreadCount)
	}
	if page.NextCursor == nil || *page.NextCursor != "cur-2" {
		t.Errorf("next cursor = %v, want cur-2", page.NextCursor)
	}
}

func TestGetMessagesLastPageHasNilCursor(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{
					"kind": "message",
					"message": map[string]any{
						"id": "m1", "rev": "rev-1", "text": "hi",
						"sender": map[string]any{"id": "did:a", "handle": "a.example", "indexedAt": "2026-08-01T12:00:00Z"},
						"sentAt": "2026-08-01T12:01:00Z",
					},
				},
				{
					"kind": "deletedMessage",
					"deletedMessage": map[string]any{
						"id": "m2", "rev": "rev-2",
						"sender": map[string]any{"id": "did:a", "handle": "a.example", "indexedAt": "2026-08-01T12:00:00Z"},
						"sentAt": "2026-08-01T12:02:00Z",
					},
				},
				{"kind": "somethingNew"},
			},
		})
	}))

	page, err := client.GetMessages(context.Background(), "c1", PageRequest{Limit: 10})
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if page.NextCursor != nil {
		t.Errorf("next cursor = %v, want nil on last page", page.NextCursor)
	}
	if len(page.Items) != 2 {
		t.Fatalf("items = %d, want 2 with unknown kind skipped", len(page.Items))
	}
	if _, ok := page.Items[0].(*model.MessageView); !ok {
		t.Errorf("item 0 is %T, want message view", page.Items[0])
	}
	if _, ok := page.Items[1].(*model.DeletedMessageView); !ok {
		t.Errorf("item 1 is %T, want deleted view", page.Items[1])
	}
}

func TestGetLogDecodesUnknownKinds(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"logs": []map[string]any{
				{"kind": "muteConvo", "convoId": "c1", "rev": "rev-3"},
				{"kind": "brandNewKind", "convoId": "c1", "rev": "rev-4"},
			},
			"cursor": "rev-4",
		})
	}))

	page, err := client.GetLog(context.Background(), "")
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if page.Cursor != "rev-4" {
		t.Errorf("cursor = %q", page.Cursor)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("entries = %d", len(page.Entries))
	}
	if _, ok := page.Entries[0].(model.LogMuteConvo); !ok {
		t.Errorf("entry 0 is %T", page.Entries[0])
	}
	unknown, ok := page.Entries[1].(model.LogUnknown)
	if !ok {
		t.Fatalf("entry 1 is %T, want LogUnknown", page.Entries[1])
	}
	if unknown.Kind != "brandNewKind" {
		t.Errorf("unknown kind = %q", unknown.Kind)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("err = %v, want ErrNotFound", err)
				}
			},
		},
		{
			name:   "server fault is transient",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				var transport *TransportError
				if !errors.As(err, &transport) {
					t.Fatalf("err = %v, want TransportError", err)
				}
				if !netretry.IsTransient(err) {
					t.Error("5xx must classify as transient")
				}
			},
		},
		{
			name:   "rate limited is transient",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				if !netretry.IsTransient(err) {
					t.Error("429 must classify as transient")
				}
			},
		},
		{
			name:   "validation failure is domain",
			status: http.StatusBadRequest,
			body:   `{"error":"InvalidRequest","message":"text too long"}`,
			check: func(t *testing.T, err error) {
				var validation *ValidationError
				if !errors.As(err, &validation) {
					t.Fatalf("err = %v, want ValidationError", err)
				}
				if validation.Code != "InvalidRequest" || validation.Message != "text too long" {
					t.Errorf("validation = %+v", validation)
				}
				if netretry.IsTransient(err) {
					t.Error("4xx must not classify as transient")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.body != "" {
					_, _ = w.Write([]byte(tt.body))
				}
			}))
			_, err := client.ListConversations(context.Background(), PageRequest{})
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
		})
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := NewHTTPClient(HTTPClientConfig{BaseURL: server.URL}, zap.NewNop())
	_, err := client.ListConversations(context.Background(), PageRequest{})
	if err == nil {
		t.Fatal("expected connection failure")
	}
	if !netretry.IsTransient(err) {
		t.Errorf("connection failure must be transient: %v", err)
	}
}

func TestSendMessagePostsAndDecodes(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Text != "hello" {
			t.Errorf("text = %q", body.Text)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "m1", "rev": "rev-1", "text": "hello",
			"sender": map[string]any{"id": "did:me", "handle": "me.example", "indexedAt": "2026-08-01T12:00:00Z"},
			"sentAt": "2026-08-01T12:01:00Z",
		})
	}))

	view, err := client.SendMessage(context.Background(), "c1", MessageInput{Text: "hello"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if view.ID != "m1" || view.Text != "hello" {
		t.Errorf("view = %+v", view)
	}
}
