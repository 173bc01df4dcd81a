/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, validating
the client id and the optional bearer credential, upgrading the HTTP connection to WebSocket, and
initiating the client lifecycle.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"supportchat/internal/app/chat"
	"supportchat/internal/app/user"
	"supportchat/internal/pkg/auth/jwt"
	"supportchat/internal/pkg/errs"
	"supportchat/internal/pkg/limiter"
	"supportchat/internal/pkg/logx"
	"supportchat/internal/pkg/randx"
	"supportchat/internal/pkg/resp"
	"supportchat/internal/pkg/wire"
)

// handshakeClientID returns the client id declared in the handshake header, falling back
// to the query string for clients that cannot set headers.
func handshakeClientID(r *http.Request) string {
	if cid := r.Header.Get(wire.ClientIDHeader); cid != "" {
		return cid
	}
	return r.URL.Query().Get(wire.ClientIDQuery)
}

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// An invalid or expired bearer is rejected with 401 before the upgrade so clients can
// refresh and retry; a missing bearer connects as a guest.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", limiter.ClientIP(r))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		clientID := handshakeClientID(r)
		if !randx.IsValidClientID(clientID) {
			logx.Warn("WebSocket request rejected: Missing or invalid client id")
			resp.RespondError(w, r, errs.NewError(errs.ErrMissingClientID))
			return
		}

		payload, err := jwt.PayloadFromRequest(r, deps.Config.JWTSecret)
		if err != nil {
			logx.Info("WebSocket connection rejected: invalid credential.", "client_id", logx.ShortID(clientID), "error", err.Error())
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		principal := user.Guest
		if payload != nil {
			principal = payload.Identity()
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(deps.Hub, conn, clientID, principal)

		if !deps.Hub.Register(client) {
			logx.Warn("WebSocket connection dropped: broker is shutting down.")
			_ = conn.Close()
			return
		}

		go client.WritePump()

		logx.Info("WebSocket connection established and client registered",
			"client_id", logx.ShortID(clientID),
			"role", string(principal.Role),
		)

		client.ReadPump()
	}
}
