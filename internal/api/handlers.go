package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nexus-im/ghost/internal/apperr"
	"github.com/nexus-im/ghost/internal/auth"
	"github.com/nexus-im/ghost/internal/blob"
	"github.com/nexus-im/ghost/internal/chat"
	"github.com/nexus-im/ghost/internal/hub"
	"github.com/nexus-im/ghost/store/message"
	"github.com/nexus-im/ghost/store/notification"
)

// MaxUploadBytes bounds a single media upload.
const MaxUploadBytes = 10 << 20

// Handler serves the REST and live endpoints.
type Handler struct {
	chat     *chat.Service
	blobs    blob.Store
	registry *hub.Registry
	verifier *auth.Verifier
	checks   map[string]func(context.Context) error
	logger   zerolog.Logger
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiverID string `json:"receiverId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	convo, err := h.chat.GetOrCreateConversation(r.Context(), auth.UserFromContext(r.Context()), req.ReceiverID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, convo)
}

func (h *Handler) recentConversations(w http.ResponseWriter, r *http.Request) {
	recent, err := h.chat.RecentConversations(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

type sendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
	Text           string `json:"text"`
	MediaType      string `json:"mediaType"`
	MediaURL       string `json:"mediaUrl"`
	ClientID       string `json:"clientId"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var (
		req   sendMessageRequest
		media *message.Media
		err   error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, media, err = h.readMultipart(w, r)
	} else {
		err = json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			err = fmt.Errorf("%w: invalid request body", apperr.ErrValidation)
		}
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	uploaded := media != nil

	if media == nil && req.MediaType != "" && req.MediaURL != "" {
		kind, err := message.ParseKind(req.MediaType)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		media = &message.Media{Kind: kind, URL: req.MediaURL}
	}

	msg, err := h.chat.SendMessage(r.Context(), auth.UserFromContext(r.Context()), chat.SendRequest{
		ConversationID: req.ConversationID,
		ReceiverID:     req.ReceiverID,
		Text:           req.Text,
		Media:          media,
		ClientID:       req.ClientID,
	})
	if err != nil {
		if uploaded {
			h.discardUpload(r.Context(), media.URL)
		}
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// readMultipart parses a form upload. An attached media file is stored
// before the message is created.
func (h *Handler) readMultipart(w http.ResponseWriter, r *http.Request) (sendMessageRequest, *message.Media, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return sendMessageRequest{}, nil, blob.ErrTooLarge
		}
		return sendMessageRequest{}, nil, fmt.Errorf("%w: invalid multipart body", apperr.ErrValidation)
	}

	req := sendMessageRequest{
		ConversationID: r.FormValue("conversationId"),
		ReceiverID:     r.FormValue("receiverId"),
		Text:           r.FormValue("text"),
		MediaType:      r.FormValue("mediaType"),
		MediaURL:       r.FormValue("mediaUrl"),
		ClientID:       r.FormValue("clientId"),
	}

	file, header, err := r.FormFile("media")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil, nil
	}
	if err != nil {
		return req, nil, fmt.Errorf("%w: invalid media part", apperr.ErrValidation)
	}
	defer func() {
		_ = file.Close()
	}()

	if header.Size > MaxUploadBytes {
		return req, nil, blob.ErrTooLarge
	}
	contentType := header.Header.Get("Content-Type")
	kind := message.KindImage
	switch {
	case strings.HasPrefix(contentType, "video/"):
		kind = message.KindVideo
	case strings.HasPrefix(contentType, "image/"):
	default:
		return req, nil, fmt.Errorf("%w: only images and videos are allowed", apperr.ErrValidation)
	}

	url, err := h.blobs.Put(r.Context(), header.Filename, file)
	if err != nil {
		return req, nil, err
	}
	return req, &message.Media{Kind: kind, URL: url}, nil
}

// discardUpload removes media stored for a send that was then rejected.
func (h *Handler) discardUpload(ctx context.Context, locator string) {
	if err := h.blobs.Delete(context.WithoutCancel(ctx), locator); err != nil {
		h.logger.Warn().Err(err).Str("locator", locator).Msg("failed to remove orphaned upload")
	}
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chat.ListMessages(r.Context(), auth.UserFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) editMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.chat.EditMessage(r.Context(), auth.UserFromContext(r.Context()), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.chat.DeleteMessage(r.Context(), auth.UserFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.chat.ListNotifications(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.chat.MarkNotificationRead(r.Context(), auth.UserFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// createNotification is called by the feed service after a like, comment
// or share. The caller's token identifies the actor.
func (h *Handler) createNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientID string `json:"recipientId"`
		Kind        string `json:"type"`
		PostID      string `json:"postId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	n, err := h.chat.Notify(r.Context(), auth.UserFromContext(r.Context()), req.RecipientID, notification.Kind(req.Kind), req.PostID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if n == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{
		"status":      http.StatusText(status),
		"connections": h.registry.Count(),
		"checks":      checks,
	})
}
