/*
Package handler provides HTTP handler functions for authentication: login, identity lookup,
access token refresh and logout.
*/
package handler

import (
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"supportchat/internal/app/db"
	"supportchat/internal/app/user"
	"supportchat/internal/pkg/auth/jwt"
	"supportchat/internal/pkg/errs"
	"supportchat/internal/pkg/logx"
	"supportchat/internal/pkg/req"
	"supportchat/internal/pkg/resp"
)

const (
	// RefreshCookieName is the HttpOnly cookie holding the refresh token.
	RefreshCookieName = "refreshToken"

	// RefreshCookiePath scopes the refresh cookie to the refresh endpoint.
	RefreshCookiePath = "/api/refresh"

	// guestUsername is reported by /api/me for requests without a credential.
	guestUsername = "guest"
)

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// MeResponse describes the principal behind the request's credential.
type MeResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username"`
	Role          string `json:"role"`
}

// HandleLogin verifies user credentials, issues an access token and sets the refresh cookie.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input LoginInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.Username == "" || input.Password == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		dbUser, err := deps.Users.GetUserByUsername(r.Context(), input.Username)
		if err != nil {
			if !db.IsNotFound(err) {
				logx.Error(err, "login: user fetch failed", "username", input.Username)
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
				return
			}
			logx.Warn("login: unknown username", "username", input.Username)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(dbUser.PasswordHash), []byte(input.Password)); err != nil {
			logx.Warn("login: password mismatch", "username", input.Username)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		account, ok := accountFromRow(dbUser)
		if !ok {
			logx.Warn("login: stored account has an unusable role", "username", dbUser.Username, "role", dbUser.Role)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		if err := deps.Users.UpdateLastLogin(r.Context(), dbUser.ID); err != nil {
			logx.Error(err, "login: failed to update last_login_at", "username", dbUser.Username)
		}

		respondWithTokens(w, r, deps, account)
	}
}

// HandleMe reports who the request's access token belongs to. Requests without a
// credential are guests; IdentityMiddleware rejects invalid credentials before this runs.
func HandleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondSuccess(w, r, MeResponse{
				Authenticated: false,
				Username:      guestUsername,
				Role:          string(user.RoleGuest),
			})
			return
		}

		resp.RespondSuccess(w, r, MeResponse{
			Authenticated: true,
			Username:      payload.Username,
			Role:          string(payload.Role),
		})
	}
}

// HandleRefresh exchanges the refresh cookie for a new access token and rotates the cookie.
// The account is reloaded so role changes take effect on the next refresh.
func HandleRefresh(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(RefreshCookieName)
		if err != nil || cookie.Value == "" {
			clearRefreshCookie(w, deps)
			resp.RespondError(w, r, errs.NewError(errs.ErrRefreshTokenMissing))
			return
		}

		payload, err := jwt.ParseToken(cookie.Value, deps.Config.JWTRefreshSecret, jwt.KindRefresh)
		if err != nil {
			logx.Warn("refresh: invalid refresh token", "error", err.Error())
			clearRefreshCookie(w, deps)
			resp.RespondError(w, r, errs.NewError(errs.ErrRefreshTokenInvalid))
			return
		}

		dbUser, err := deps.Users.GetUserByUsername(r.Context(), payload.Username)
		if err != nil {
			if !db.IsNotFound(err) {
				logx.Error(err, "refresh: user fetch failed", "username", payload.Username)
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
				return
			}
			clearRefreshCookie(w, deps)
			resp.RespondError(w, r, errs.NewError(errs.ErrRefreshTokenInvalid))
			return
		}

		account, ok := accountFromRow(dbUser)
		if !ok {
			clearRefreshCookie(w, deps)
			resp.RespondError(w, r, errs.NewError(errs.ErrRefreshTokenInvalid))
			return
		}

		respondWithTokens(w, r, deps, account)
	}
}

// HandleLogout clears the refresh cookie. Access tokens are stateless and simply expire.
func HandleLogout(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clearRefreshCookie(w, deps)
		resp.RespondNoContent(w, r)
	}
}

// accountFromRow converts a users row. Guest is not a storable role.
func accountFromRow(row db.User) (user.User, bool) {
	role, ok := user.ParseRole(row.Role)
	if !ok || role == user.RoleGuest {
		return user.User{}, false
	}
	return user.User{ID: row.ID.String(), Username: row.Username, Role: role}, true
}

// respondWithTokens issues an access token in the body and a refresh token in the cookie.
func respondWithTokens(w http.ResponseWriter, r *http.Request, deps *AppDeps, account user.User) {
	accessToken, err := jwt.GenerateToken(account, jwt.KindAccess, deps.Config.JWTSecret, deps.Config.AccessTokenTTL)
	if err != nil {
		logx.Error(err, "jwt generation failed", "username", account.Username)
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return
	}

	refreshToken, err := jwt.GenerateToken(account, jwt.KindRefresh, deps.Config.JWTRefreshSecret, deps.Config.RefreshTokenTTL)
	if err != nil {
		logx.Error(err, "refresh jwt generation failed", "username", account.Username)
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refreshToken,
		Path:     RefreshCookiePath,
		MaxAge:   int(deps.Config.RefreshTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   deps.Config.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	resp.RespondSuccess(w, r, TokenResponse{
		Token:    accessToken,
		Username: account.Username,
		Role:     string(account.Role),
	})
}

func clearRefreshCookie(w http.ResponseWriter, deps *AppDeps) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     RefreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   deps.Config.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
