package auth

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/subreax/reaction/internal/api"
	"github.com/subreax/reaction/internal/backendtest"
	"github.com/subreax/reaction/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "auth.db"), "secret", testLogger())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func signedInRepo(t *testing.T) (*Repository, *backendtest.Server, *store.Store) {
	t.Helper()
	backend := backendtest.NewServer(t)
	st := openStore(t)
	repo := NewRepository(api.NewClient(backend.URL(), testLogger()), st, testLogger())

	err := repo.SignIn(context.Background(), SignInData{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}
	return repo, backend, st
}

func TestSignInPersistsCredentials(t *testing.T) {
	repo, _, st := signedInRepo(t)

	if !repo.IsSignedIn() {
		t.Fatal("not signed in")
	}
	if repo.UserID() != "user-alice" {
		t.Fatalf("user id = %q", repo.UserID())
	}

	token := repo.Token(context.Background())
	if len(token) < len(bearerPrefix) || token[:len(bearerPrefix)] != bearerPrefix {
		t.Fatalf("token %q lacks the bearer prefix", token)
	}

	data, ok := st.LoadAuth()
	if !ok {
		t.Fatal("credentials not persisted")
	}
	if data.AccessToken != token {
		t.Fatal("persisted token differs from the served one")
	}
}

func TestSignInPublishesToken(t *testing.T) {
	backend := backendtest.NewServer(t)
	st := openStore(t)
	repo := NewRepository(api.NewClient(backend.URL(), testLogger()), st, testLogger())

	tokens, cancel := repo.OnTokenChanged().Subscribe()
	defer cancel()

	if err := repo.SignIn(context.Background(), SignInData{Username: "alice", Password: "pw"}); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}

	select {
	case token := <-tokens:
		if token == EmptyToken {
			t.Fatal("sign-in published the empty sentinel")
		}
	case <-time.After(time.Second):
		t.Fatal("no token-changed event")
	}
}

func TestRestoredCredentialsSurviveRestart(t *testing.T) {
	repo, backend, st := signedInRepo(t)
	userID := repo.UserID()

	again := NewRepository(api.NewClient(backend.URL(), testLogger()), st, testLogger())
	if !again.IsSignedIn() {
		t.Fatal("restart lost the session")
	}
	if again.UserID() != userID {
		t.Fatalf("restored user id = %q, want %q", again.UserID(), userID)
	}
}

func TestTokenWhileSignedOut(t *testing.T) {
	backend := backendtest.NewServer(t)
	repo := NewRepository(api.NewClient(backend.URL(), testLogger()), openStore(t), testLogger())

	if got := repo.Token(context.Background()); got != EmptyToken {
		t.Fatalf("token = %q, want the empty sentinel", got)
	}
}

func TestSignOut(t *testing.T) {
	repo, _, st := signedInRepo(t)

	tokens, cancel := repo.OnTokenChanged().Subscribe()
	defer cancel()

	repo.SignOut()

	if repo.IsSignedIn() {
		t.Fatal("still signed in")
	}
	if _, ok := st.LoadAuth(); ok {
		t.Fatal("store kept the credentials")
	}

	select {
	case token := <-tokens:
		if token != EmptyToken {
			t.Fatalf("sign-out published %q, want the empty sentinel", token)
		}
	case <-time.After(time.Second):
		t.Fatal("no token-changed event")
	}
}

func TestExpiredTokenRefreshesInline(t *testing.T) {
	repo, backend, _ := signedInRepo(t)

	repo.tokenMu.Lock()
	stale := repo.data.AccessToken
	repo.data.AccessTokenExp = time.Now().Add(-time.Minute).UnixMilli()
	repo.tokenMu.Unlock()

	token := repo.Token(context.Background())
	if token == stale {
		t.Fatal("stale token returned despite a reachable backend")
	}
	if backend.RefreshCalls.Load() != 1 {
		t.Fatalf("refresh called %d times, want 1", backend.RefreshCalls.Load())
	}
	if repo.UserID() != "user-alice" {
		t.Fatal("refresh lost the user id")
	}
}

func TestConcurrentTokenCallsRefreshOnce(t *testing.T) {
	repo, backend, _ := signedInRepo(t)

	repo.tokenMu.Lock()
	repo.data.AccessTokenExp = time.Now().Add(-time.Minute).UnixMilli()
	repo.tokenMu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			repo.Token(context.Background())
		}()
	}
	wg.Wait()

	if got := backend.RefreshCalls.Load(); got != 1 {
		t.Fatalf("refresh called %d times, want 1", got)
	}
}

func TestRefreshFailureReturnsStaleToken(t *testing.T) {
	repo, backend, _ := signedInRepo(t)
	backend.Close()

	repo.tokenMu.Lock()
	stale := repo.data.AccessToken
	repo.data.AccessTokenExp = time.Now().Add(-time.Minute).UnixMilli()
	repo.tokenMu.Unlock()

	if got := repo.Token(context.Background()); got != stale {
		t.Fatalf("token = %q, want the stale %q", got, stale)
	}
}

func TestExpiryFromClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	}).SignedString([]byte("whatever"))
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}

	got := expiryFromClaims(bearerPrefix + raw)
	if got != exp.UnixMilli() {
		t.Fatalf("expiry = %d, want %d", got, exp.UnixMilli())
	}

	if expiryFromClaims("Bearer not-a-jwt") != 0 {
		t.Fatal("garbage token should yield zero")
	}
}
