package ws

import (
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
)

func newTranslationServer(t *testing.T, tr *fakeTranslator) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewSupervisor(SupervisorConfig{Kind: KindTranslation, MaxConcurrent: 4}, NewTranslationSession(tr)))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranslationWithoutSource(t *testing.T) {
	tr := &fakeTranslator{}
	conn := dial(t, newTranslationServer(t, tr))

	send(t, conn, websocket.TextMessage, []byte(`{"text":"good morning","target_language":" ES "}`))

	if msg := readFrame(t, conn); msg["message"] != "[es] good morning" {
		t.Errorf("frame = %v", msg)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.calls) != 1 || tr.calls[0] != [3]string{"good morning", "", "es"} {
		t.Errorf("translator calls = %v", tr.calls)
	}
}

func TestTranslationSourceNormalized(t *testing.T) {
	tr := &fakeTranslator{}
	conn := dial(t, newTranslationServer(t, tr))

	send(t, conn, websocket.TextMessage, []byte(`{"text":"hola","source_language":"ES","target_language":"en-us"}`))
	readFrame(t, conn)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.calls[0][1] != "es" || tr.calls[0][2] != "en-us" {
		t.Errorf("languages = %q -> %q", tr.calls[0][1], tr.calls[0][2])
	}
}

func TestTranslationFailureKeepsSession(t *testing.T) {
	conn := dial(t, newTranslationServer(t, &fakeTranslator{}))

	send(t, conn, websocket.TextMessage, []byte(`{"text":"fail","target_language":"de"}`))
	if msg := readFrame(t, conn); msg["error"] == "" {
		t.Errorf("frame = %v, want error", msg)
	}

	send(t, conn, websocket.TextMessage, []byte(`{"text":"again","target_language":"de"}`))
	if msg := readFrame(t, conn); msg["message"] != "[de] again" {
		t.Errorf("frame after failure = %v", msg)
	}
}

func TestTranslationProtocolViolation(t *testing.T) {
	tests := []struct {
		name        string
		messageType int
		payload     string
	}{
		{name: "missing text", messageType: websocket.TextMessage, payload: `{"target_language":"de"}`},
		{name: "missing target", messageType: websocket.TextMessage, payload: `{"text":"hi"}`},
		{name: "blank target", messageType: websocket.TextMessage, payload: `{"text":"hi","target_language":"  "}`},
		{name: "malformed json", messageType: websocket.TextMessage, payload: `{"text":`},
		{name: "binary frame", messageType: websocket.BinaryMessage, payload: "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTranslator{}
			conn := dial(t, newTranslationServer(t, tr))

			send(t, conn, tt.messageType, []byte(tt.payload))
			if msg := readFrame(t, conn); msg["error"] == "" {
				t.Errorf("frame = %v, want error", msg)
			}
			expectClose(t, conn, websocket.ClosePolicyViolation)

			tr.mu.Lock()
			defer tr.mu.Unlock()
			if len(tr.calls) != 0 {
				t.Errorf("translator called %d times", len(tr.calls))
			}
		})
	}
}
