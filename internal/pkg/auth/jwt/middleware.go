package jwt

import (
	"context"
	"net/http"

	"supportchat/internal/app/user"
	"supportchat/internal/pkg/errs"
	"supportchat/internal/pkg/logx"
	"supportchat/internal/pkg/resp"
	"supportchat/internal/pkg/wire"
)

// Define Context Key for storing the Payload struct, preventing key collisions with other packages.
type contextKey string

const (
	// ContextAuthPayloadKey is the key used to store the parsed jwt.Payload (user identity) in the request Context.
	ContextAuthPayloadKey contextKey = "auth_payload"
)

// PayloadFromRequest extracts and validates the bearer access token of r.
// It returns (nil, nil) when the request carries no credential, which marks a guest.
func PayloadFromRequest(r *http.Request, secretKey string) (*Payload, error) {
	authHeader := r.Header.Get(wire.AuthorizationHeader)
	if authHeader == "" {
		return nil, nil
	}

	tokenString, ok := wire.ParseBearer(authHeader)
	if !ok {
		// "Bearer null" and friends are sent by clients that lost their token.
		return nil, nil
	}

	return ParseToken(tokenString, secretKey, KindAccess)
}

// IdentityMiddleware extracts the JWT from the request header and injects the Payload
// into the Context. Requests without a credential continue as guests. Requests with an
// invalid or expired credential are rejected with 401, so clients know to refresh.
func IdentityMiddleware(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload, err := PayloadFromRequest(r, secretKey)
			if err != nil {
				logx.Warn("Invalid or expired JWT provided", "error", err.Error(), "path", r.URL.Path)
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}

			if payload == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ContextAuthPayloadKey, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPayloadFromContext safely extracts the authenticated Payload from the request Context.
// In contexts where IdentityMiddleware is used, a nil return means the user is a guest.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, ok := r.Context().Value(ContextAuthPayloadKey).(*Payload)

	if !ok {
		return nil
	}

	return payload
}

// IdentityFromContext returns the identity of the request, or user.Guest.
func IdentityFromContext(r *http.Request) user.Identity {
	if payload := GetPayloadFromContext(r); payload != nil {
		return payload.Identity()
	}
	return user.Guest
}
