package user

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/subreax/reaction/internal/api"
)

// User is an immutable value fetched from the backend.
type User struct {
	ID           string
	Name         string
	Avatar       string
	LastActivity time.Time
}

// TokenSource supplies the current bearer token and user id.
type TokenSource interface {
	Token(ctx context.Context) string
	UserID() string
}

// Repository caches users by id for its whole lifetime. Lookups for
// unknown users synthesize a placeholder instead of failing, so message
// rendering never blocks on a broken profile fetch.
type Repository struct {
	api    *api.Client
	tokens TokenSource
	log    *slog.Logger

	mu    sync.Mutex
	users map[string]User
}

func NewRepository(apiClient *api.Client, tokens TokenSource, log *slog.Logger) *Repository {
	return &Repository{
		api:    apiClient,
		tokens: tokens,
		log:    log,
		users:  make(map[string]User),
	}
}

func (r *Repository) CurrentUser(ctx context.Context) User {
	return r.GetByID(ctx, r.tokens.UserID())
}

func (r *Repository) GetByID(ctx context.Context, id string) User {
	r.mu.Lock()
	u, ok := r.users[id]
	r.mu.Unlock()
	if ok {
		return u
	}

	u = r.fetch(ctx, id)

	r.mu.Lock()
	r.users[id] = u
	r.mu.Unlock()
	return u
}

func (r *Repository) fetch(ctx context.Context, id string) User {
	dto, err := r.api.GetUserDetails(ctx, r.tokens.Token(ctx), id)
	if err != nil {
		r.log.Error("users - fetch failed", "user_id", id, "error", err)
		return placeholder(id)
	}
	return User{
		ID:           dto.ID,
		Name:         dto.Name,
		Avatar:       dto.Avatar,
		LastActivity: time.UnixMilli(dto.LastActivity),
	}
}

func placeholder(id string) User {
	return User{
		ID:           id,
		Name:         "unknown#" + id,
		LastActivity: time.Now(),
	}
}
