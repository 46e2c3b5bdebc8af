package user

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/subreax/reaction/internal/api"
	"github.com/subreax/reaction/internal/backendtest"
)

type stubTokens struct{}

func (stubTokens) Token(ctx context.Context) string { return "Bearer test" }
func (stubTokens) UserID() string                   { return "me" }

func newRepo(t *testing.T) (*Repository, *backendtest.Server) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := backendtest.NewServer(t)
	return NewRepository(api.NewClient(backend.URL(), log), stubTokens{}, log), backend
}

func TestGetByIDFetchesOnce(t *testing.T) {
	repo, backend := newRepo(t)
	backend.AddUser(api.UserDTO{ID: "bob", Name: "Bob", LastActivity: 42})

	u := repo.GetByID(context.Background(), "bob")
	if u.Name != "Bob" {
		t.Fatalf("user = %+v", u)
	}

	// a second lookup is served from the cache even if the backend dies
	backend.Close()
	again := repo.GetByID(context.Background(), "bob")
	if again != u {
		t.Fatalf("cache miss: %+v", again)
	}
}

func TestUnknownUserGetsPlaceholder(t *testing.T) {
	repo, _ := newRepo(t)

	u := repo.GetByID(context.Background(), "ghost")
	if u.ID != "ghost" || u.Name != "unknown#ghost" {
		t.Fatalf("placeholder = %+v", u)
	}
}

func TestCurrentUser(t *testing.T) {
	repo, backend := newRepo(t)
	backend.AddUser(api.UserDTO{ID: "me", Name: "Myself"})

	if u := repo.CurrentUser(context.Background()); u.Name != "Myself" {
		t.Fatalf("current user = %+v", u)
	}
}
