package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/nexus-im/ghost/internal/auth"
	"github.com/nexus-im/ghost/internal/fanout"
	"github.com/nexus-im/ghost/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by CORS on the REST surface; the token is the
	// credential here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveWS authenticates before upgrading, then binds the connection to the
// user's room for its lifetime.
func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		jsonError(w, http.StatusUnauthorized, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	greeting, err := fanout.Event{
		Type:    fanout.TypeAuthenticated,
		Payload: map[string]string{"userId": claims.UserID},
	}.Encode()
	if err != nil {
		greeting = nil
	}
	hub.NewClient(conn, claims.UserID, h.registry, h.logger).Run(greeting)
}
