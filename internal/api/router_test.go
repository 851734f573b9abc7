package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nexus-im/ghost/internal/auth"
	"github.com/nexus-im/ghost/internal/blob"
	"github.com/nexus-im/ghost/internal/chat"
	"github.com/nexus-im/ghost/internal/fanout"
	"github.com/nexus-im/ghost/internal/hub"
	"github.com/nexus-im/ghost/store/conversation"
	"github.com/nexus-im/ghost/store/message"
	"github.com/nexus-im/ghost/store/notification"
)

type testServer struct {
	*httptest.Server
	verifier *auth.Verifier
	registry *hub.Registry
	uploads  string
}

func newTestServer(t *testing.T, checks map[string]func(context.Context) error) *testServer {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blob.NewDiskStore(dir, "/uploads", MaxUploadBytes)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	reg := hub.NewRegistry()
	engine := fanout.NewEngine(reg, fanout.Config{}, zerolog.Nop())
	verifier := auth.NewVerifier("test-secret", "ghost")
	svc := chat.NewService(conversation.NewMemoryStore(), message.NewMemoryStore(), notification.NewMemoryStore(), engine, zerolog.Nop())

	srv := httptest.NewServer(NewRouter(Deps{
		Chat:      svc,
		Blobs:     blobs,
		UploadDir: dir,
		Registry:  reg,
		Verifier:  verifier,
		Checks:    checks,
		Logger:    zerolog.Nop(),
	}))
	t.Cleanup(func() {
		srv.Close()
		engine.Close()
	})
	return &testServer{Server: srv, verifier: verifier, registry: reg, uploads: dir}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.verifier.Issue(userID, "", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, userID, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, s.URL+path, rd)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?token=" + s.token(t, userID)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	ev := readEvent(t, ws)
	if ev.Type != fanout.TypeAuthenticated {
		t.Fatalf("expected authenticated greeting, got %s", ev.Type)
	}
	return ws
}

type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readEvent(t *testing.T, ws *websocket.Conn) wireEvent {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wireEvent
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestConversationScenario(t *testing.T) {
	s := newTestServer(t, nil)
	bob := s.dial(t, "B")

	var convo conversation.Conversation
	if code := s.do(t, "A", http.MethodPost, "/api/messages/conversation", map[string]string{"receiverId": "B"}, &convo); code != http.StatusOK {
		t.Fatalf("create conversation: %d", code)
	}

	var m1 message.Message
	code := s.do(t, "A", http.MethodPost, "/api/messages", map[string]string{"conversationId": convo.ID, "receiverId": "B", "text": "hi", "clientId": "tmp-1"}, &m1)
	if code != http.StatusCreated || m1.Text != "hi" || m1.ClientID != "tmp-1" {
		t.Fatalf("send: %d %+v", code, m1)
	}
	if ev := readEvent(t, bob); ev.Type != fanout.TypeReceiveMessage {
		t.Fatalf("expected receiveMessage, got %s", ev.Type)
	}

	var edited message.Message
	if code := s.do(t, "A", http.MethodPut, "/api/messages/"+m1.ID, map[string]string{"text": "hi there"}, &edited); code != http.StatusOK || !edited.Edited {
		t.Fatalf("edit: %d %+v", code, edited)
	}
	ev := readEvent(t, bob)
	var pushed message.Message
	_ = json.Unmarshal(ev.Payload, &pushed)
	if ev.Type != fanout.TypeMessageEdited || pushed.Text != "hi there" {
		t.Fatalf("expected messageEdited with new text, got %s %+v", ev.Type, pushed)
	}

	if code := s.do(t, "B", http.MethodPut, "/api/messages/"+m1.ID, map[string]string{"text": "hijack"}, nil); code != http.StatusForbidden {
		t.Errorf("non-sender edit: expected 403, got %d", code)
	}

	var deleted message.Message
	if code := s.do(t, "A", http.MethodDelete, "/api/messages/"+m1.ID, nil, &deleted); code != http.StatusOK || !deleted.Deleted {
		t.Fatalf("delete: %d %+v", code, deleted)
	}
	if ev := readEvent(t, bob); ev.Type != fanout.TypeMessageDeleted {
		t.Fatalf("expected messageDeleted, got %s", ev.Type)
	}
	if code := s.do(t, "A", http.MethodDelete, "/api/messages/"+m1.ID, nil, nil); code != http.StatusConflict {
		t.Errorf("repeat delete: expected 409, got %d", code)
	}

	var history []message.Message
	if code := s.do(t, "B", http.MethodGet, "/api/messages/"+convo.ID, nil, &history); code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	if len(history) != 1 || !history[0].Deleted || history[0].Text != "" {
		t.Fatalf("unexpected history: %+v", history)
	}

	if code := s.do(t, "C", http.MethodGet, "/api/messages/"+convo.ID, nil, nil); code != http.StatusForbidden {
		t.Errorf("outsider list: expected 403, got %d", code)
	}
	if code := s.do(t, "A", http.MethodGet, "/api/messages/unknown", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown conversation: expected 404, got %d", code)
	}

	var recent []chat.RecentConversation
	if code := s.do(t, "B", http.MethodGet, "/api/messages/conversations/recent", nil, &recent); code != http.StatusOK || len(recent) != 1 || recent[0].RecipientID != "A" {
		t.Fatalf("recent: %d %+v", code, recent)
	}
}

func TestSendValidation(t *testing.T) {
	s := newTestServer(t, nil)
	if code := s.do(t, "A", http.MethodPost, "/api/messages", map[string]string{"receiverId": "B", "text": "  "}, nil); code != http.StatusBadRequest {
		t.Errorf("empty message: expected 400, got %d", code)
	}
	if code := s.do(t, "A", http.MethodPost, "/api/messages", map[string]string{"receiverId": "B", "mediaType": "audio", "mediaUrl": "x"}, nil); code != http.StatusBadRequest {
		t.Errorf("unknown media type: expected 400, got %d", code)
	}

	var gif message.Message
	code := s.do(t, "A", http.MethodPost, "/api/messages", map[string]string{"receiverId": "B", "mediaType": "gif", "mediaUrl": "https://media.giphy.com/x.gif"}, &gif)
	if code != http.StatusCreated || gif.Media == nil || gif.Media.Kind != message.KindGIF {
		t.Errorf("gif message: %d %+v", code, gif)
	}
}

func multipartBody(t *testing.T, fields map[string]string, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="media"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		_, _ = part.Write(content)
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestSendMultipartUpload(t *testing.T) {
	s := newTestServer(t, nil)

	post := func(filename, contentType string) (*http.Response, message.Message) {
		body, ct := multipartBody(t, map[string]string{"receiverId": "B"}, filename, contentType, []byte("video-bytes"))
		req, _ := http.NewRequest(http.MethodPost, s.URL+"/api/messages", body)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("Authorization", "Bearer "+s.token(t, "A"))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		defer resp.Body.Close()
		var msg message.Message
		if resp.StatusCode == http.StatusCreated {
			_ = json.NewDecoder(resp.Body).Decode(&msg)
		}
		return resp, msg
	}

	resp, msg := post("clip.mp4", "video/mp4")
	if resp.StatusCode != http.StatusCreated || msg.Media == nil || msg.Media.Kind != message.KindVideo {
		t.Fatalf("upload: %d %+v", resp.StatusCode, msg)
	}

	got, err := http.Get(s.URL + msg.Media.URL)
	if err != nil {
		t.Fatalf("fetch upload: %v", err)
	}
	data, _ := io.ReadAll(got.Body)
	got.Body.Close()
	if got.StatusCode != http.StatusOK || string(data) != "video-bytes" {
		t.Errorf("served upload: %d %q", got.StatusCode, data)
	}

	if resp, _ := post("notes.txt", "text/plain"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-media upload: expected 400, got %d", resp.StatusCode)
	}
}

func TestNotificationsEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	x := s.dial(t, "X")

	var n notification.Notification
	if code := s.do(t, "Y", http.MethodPost, "/api/notifications", map[string]string{"recipientId": "X", "type": "like", "postId": "p1"}, &n); code != http.StatusCreated {
		t.Fatalf("create notification: %d", code)
	}
	if ev := readEvent(t, x); ev.Type != fanout.TypeNewNotification {
		t.Fatalf("expected newNotification, got %s", ev.Type)
	}

	if code := s.do(t, "X", http.MethodPost, "/api/notifications", map[string]string{"recipientId": "X", "type": "like", "postId": "p1"}, nil); code != http.StatusNoContent {
		t.Errorf("self-like: expected 204, got %d", code)
	}

	var list []notification.Notification
	if code := s.do(t, "X", http.MethodGet, "/api/notifications", nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list: %d %+v", code, list)
	}
	if code := s.do(t, "Y", http.MethodPut, "/api/notifications/"+n.ID+"/read", nil, nil); code != http.StatusNotFound {
		t.Errorf("foreign mark read: expected 404, got %d", code)
	}
	var read notification.Notification
	if code := s.do(t, "X", http.MethodPut, "/api/notifications/"+n.ID+"/read", nil, &read); code != http.StatusOK || !read.Read {
		t.Errorf("mark read: %d %+v", code, read)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, nil)
	if code := s.do(t, "", http.MethodGet, "/api/notifications", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/ws", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated websocket must be rejected with 401")
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	resp, err := http.Get(s.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusServiceUnavailable || body.Checks["postgres"] != "ok" {
		t.Errorf("unexpected health: %d %+v", resp.StatusCode, body)
	}
}

func TestRejectedUploadLeavesNoFile(t *testing.T) {
	s := newTestServer(t, nil)

	var convo conversation.Conversation
	if code := s.do(t, "B", http.MethodPost, "/api/messages/conversation", map[string]string{"receiverId": "C"}, &convo); code != http.StatusOK {
		t.Fatalf("create conversation: %d", code)
	}

	body, ct := multipartBody(t, map[string]string{"conversationId": convo.ID}, "pic.png", "image/png", []byte("png-bytes"))
	req, _ := http.NewRequest(http.MethodPost, s.URL+"/api/messages", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "A"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-member upload: expected 403, got %d", resp.StatusCode)
	}

	entries, err := os.ReadDir(s.uploads)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected send left %d stored files", len(entries))
	}
}
