package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsState struct {
	State    string  `json:"state"`
	Position int     `json:"position"`
	Selected []int64 `json:"selected"`
	Question *struct {
		QuestionID int64 `json:"questionId"`
	} `json:"question"`
	Summary *struct {
		Score *int `json:"score"`
	} `json:"summary"`
}

func dialAttempt(t *testing.T, server *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + path
	return websocket.DefaultDialer.Dial(u, nil)
}

func TestWebSocketAttemptFlow(t *testing.T) {
	server := httptest.NewServer(newTestRouter(t))
	defer server.Close()

	conn, _, err := dialAttempt(t, server, "/ws/attempts/7?userId=1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if st := readState(t, conn); st.State != "not_started" {
		t.Fatalf("expected not_started, got %s", st.State)
	}

	send(t, conn, map[string]any{"type": "start"})
	st := readState(t, conn)
	if st.State != "in_progress" || st.Position != 1 || st.Question == nil || st.Question.QuestionID != 100 {
		t.Fatalf("unexpected state after start: %+v", st)
	}

	send(t, conn, map[string]any{"type": "next"})
	if msg := readNext(t, conn, "confirm"); len(msg.Payload) == 0 {
		t.Fatalf("expected confirm payload")
	}

	send(t, conn, map[string]any{"type": "select", "payload": map[string]any{"answerId": 1000}})
	st = readState(t, conn)
	if len(st.Selected) != 1 || st.Selected[0] != 1000 {
		t.Fatalf("expected selection [1000], got %v", st.Selected)
	}

	send(t, conn, map[string]any{"type": "next"})
	st = readState(t, conn)
	if st.Position != 2 || st.Question == nil || st.Question.QuestionID != 101 {
		t.Fatalf("unexpected state after next: %+v", st)
	}

	send(t, conn, map[string]any{"type": "select", "payload": map[string]any{"answerId": 1000}})
	readNext(t, conn, "error")

	send(t, conn, map[string]any{"type": "submit"})
	st = readState(t, conn)
	if st.State != "completed" {
		t.Fatalf("expected completed, got %s", st.State)
	}
	if st.Summary == nil || st.Summary.Score == nil || *st.Summary.Score != 1 {
		t.Fatalf("unexpected summary %+v", st.Summary)
	}
}

func TestWebSocketRejectsBeforeUpgrade(t *testing.T) {
	server := httptest.NewServer(newTestRouter(t))
	defer server.Close()

	holder, _, err := dialAttempt(t, server, "/ws/attempts/8?userId=2")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer holder.Close()
	readState(t, holder)

	cases := []struct {
		path   string
		status int
	}{
		{"/ws/attempts/7?userId=2", http.StatusNotFound},
		{"/ws/attempts/7", http.StatusBadRequest},
		{"/ws/attempts/99?userId=1", http.StatusNotFound},
		{"/ws/attempts/8?userId=2", http.StatusConflict},
	}
	for _, tc := range cases {
		conn, resp, err := dialAttempt(t, server, tc.path)
		if err == nil {
			conn.Close()
			t.Fatalf("%s: expected handshake failure", tc.path)
		}
		if resp == nil || resp.StatusCode != tc.status {
			t.Fatalf("%s: expected status %d, got %+v", tc.path, tc.status, resp)
		}
	}
}

func TestWebSocketUnknownMessage(t *testing.T) {
	server := httptest.NewServer(newTestRouter(t))
	defer server.Close()

	conn, _, err := dialAttempt(t, server, "/ws/attempts/7?userId=1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readState(t, conn)

	send(t, conn, map[string]any{"type": "dance"})
	msg := readNext(t, conn, "error")
	var payload errorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Kind != "validation" {
		t.Fatalf("expected validation kind, got %s", payload.Kind)
	}
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readNext(t *testing.T, conn *websocket.Conn, expect string) wsMessage {
	t.Helper()
	var msg wsMessage
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%s)", expect, msg.Type, msg.Payload)
	}
	return msg
}

func readState(t *testing.T, conn *websocket.Conn) wsState {
	t.Helper()
	msg := readNext(t, conn, "state")
	var st wsState
	if err := json.Unmarshal(msg.Payload, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}
