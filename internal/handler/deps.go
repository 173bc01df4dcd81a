package handler

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"supportchat/internal/app/chat"
	"supportchat/internal/app/db"
	"supportchat/internal/configs"
)

// UserStore is the account lookup behind the auth handlers. *db.Queries satisfies it.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (db.User, error)
	UpdateLastLogin(ctx context.Context, id pgtype.UUID) error
}

type AppDeps struct {
	Hub    *chat.Hub
	Config *configs.AppConfig
	Users  UserStore
}
