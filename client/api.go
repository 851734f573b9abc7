package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/nexus-im/ghost/store/conversation"
	"github.com/nexus-im/ghost/store/message"
	"github.com/nexus-im/ghost/store/notification"
)

// DefaultTimeout bounds each REST call.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ghost: %d %s", e.Status, e.Message)
}

// APIClient is a typed client for the REST surface.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures an APIClient.
type Option func(*APIClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *APIClient) { c.httpClient = hc }
}

// NewAPIClient creates a client for the server at baseURL.
func NewAPIClient(baseURL, token string, opts ...Option) *APIClient {
	c := &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address.
func (c *APIClient) BaseURL() string { return c.baseURL }

// Token returns the bearer token.
func (c *APIClient) Token() string { return c.token }

func (c *APIClient) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *APIClient) send(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// GetOrCreateConversation finds or creates the conversation with receiverID.
func (c *APIClient) GetOrCreateConversation(ctx context.Context, receiverID string) (*conversation.Conversation, error) {
	var convo conversation.Conversation
	err := c.doRequest(ctx, http.MethodPost, "/api/messages/conversation", map[string]string{"receiverId": receiverID}, &convo)
	if err != nil {
		return nil, err
	}
	return &convo, nil
}

// RecentConversations lists conversations by latest activity.
func (c *APIClient) RecentConversations(ctx context.Context) ([]RecentConversation, error) {
	var out []RecentConversation
	if err := c.doRequest(ctx, http.MethodGet, "/api/messages/conversations/recent", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendParams describes a new message.
type SendParams struct {
	ConversationID string `json:"conversationId,omitempty"`
	ReceiverID     string `json:"receiverId,omitempty"`
	Text           string `json:"text,omitempty"`
	MediaType      string `json:"mediaType,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	ClientID       string `json:"clientId,omitempty"`
}

// SendMessage posts a text message or a message referencing external media.
func (c *APIClient) SendMessage(ctx context.Context, p SendParams) (*message.Message, error) {
	var msg message.Message
	if err := c.doRequest(ctx, http.MethodPost, "/api/messages", p, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendFile uploads media and posts it as a message.
func (c *APIClient) SendFile(ctx context.Context, p SendParams, filename, contentType string, r io.Reader) (*message.Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"conversationId": p.ConversationID,
		"receiverId":     p.ReceiverID,
		"text":           p.Text,
		"clientId":       p.ClientID,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/messages", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var msg message.Message
	if err := c.send(req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns the full history of a conversation.
func (c *APIClient) ListMessages(ctx context.Context, conversationID string) ([]message.Message, error) {
	var out []message.Message
	if err := c.doRequest(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(conversationID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EditMessage replaces the text of one of the caller's messages.
func (c *APIClient) EditMessage(ctx context.Context, id, text string) (*message.Message, error) {
	var msg message.Message
	if err := c.doRequest(ctx, http.MethodPut, "/api/messages/"+url.PathEscape(id), map[string]string{"text": text}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage tombstones one of the caller's messages.
func (c *APIClient) DeleteMessage(ctx context.Context, id string) (*message.Message, error) {
	var msg message.Message
	if err := c.doRequest(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(id), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Notifications returns the newest notifications.
func (c *APIClient) Notifications(ctx context.Context) ([]notification.Notification, error) {
	var out []notification.Notification
	if err := c.doRequest(ctx, http.MethodGet, "/api/notifications", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNotificationRead marks a notification as read.
func (c *APIClient) MarkNotificationRead(ctx context.Context, id string) (*notification.Notification, error) {
	var n notification.Notification
	if err := c.doRequest(ctx, http.MethodPut, "/api/notifications/"+url.PathEscape(id)+"/read", nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
