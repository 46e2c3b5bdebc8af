package auth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/subreax/reaction/internal/api"
	"github.com/subreax/reaction/internal/events"
	"github.com/subreax/reaction/internal/store"
)

// EmptyToken is the sentinel distinguishing signed-out from
// signed-in-but-expired. Token never fails; it returns this instead.
const EmptyToken = ""

const bearerPrefix = "Bearer "

// refreshMargin is how long before expiry the background refresh fires.
const refreshMargin = time.Minute

const minRefreshDelay = 15 * time.Second

type SignInData struct {
	Username string
	Password string
}

type SignUpData struct {
	Email    string
	Username string
	Password string
}

// Repository owns the credential record: sign-in/up/out, transparent
// refresh, and a token-change stream consumed by the socket service.
// Refresh is serialized by its own mutex, distinct from any data cache:
// concurrent Token callers block behind a single in-flight refresh.
type Repository struct {
	api *api.Client
	st  *store.Store
	log *slog.Logger

	tokenMu      sync.Mutex
	data         *api.AuthData
	refreshTimer *time.Timer

	onTokenChanged *events.Stream[string]
}

func NewRepository(apiClient *api.Client, st *store.Store, log *slog.Logger) *Repository {
	r := &Repository{
		api:            apiClient,
		st:             st,
		log:            log,
		onTokenChanged: events.NewStream[string](),
	}

	if data, ok := st.LoadAuth(); ok {
		r.data = &data
		r.tokenMu.Lock()
		r.scheduleRefreshLocked()
		r.tokenMu.Unlock()
		log.Info("auth - restored credentials", "user_id", data.UserID)
	}

	return r
}

// OnTokenChanged emits the new access token on every credential change;
// the empty sentinel means signed out.
func (r *Repository) OnTokenChanged() *events.Stream[string] {
	return r.onTokenChanged
}

func (r *Repository) IsSignedIn() bool {
	r.tokenMu.Lock()
	defer r.tokenMu.Unlock()
	return r.data != nil
}

func (r *Repository) UserID() string {
	r.tokenMu.Lock()
	defer r.tokenMu.Unlock()
	if r.data == nil {
		return ""
	}
	return r.data.UserID
}

func (r *Repository) SignIn(ctx context.Context, data SignInData) error {
	authData, err := r.api.SignIn(ctx, data.Username, data.Password)
	if err != nil {
		return err
	}

	r.tokenMu.Lock()
	token := r.applyLocked(authData)
	r.tokenMu.Unlock()
	r.onTokenChanged.Publish(token)

	r.log.Info("auth - signed in", "user_id", authData.UserID)
	return nil
}

func (r *Repository) SignUp(ctx context.Context, data SignUpData) error {
	return r.api.SignUp(ctx, data.Email, data.Username, data.Password)
}

func (r *Repository) SignOut() {
	r.tokenMu.Lock()
	r.data = nil
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
		r.refreshTimer = nil
	}
	if err := r.st.Clear(); err != nil {
		r.log.Error("auth - failed to clear store", "error", err)
	}
	r.tokenMu.Unlock()

	r.onTokenChanged.Publish(EmptyToken)
	r.log.Info("auth - signed out")
}

// Token returns the current bearer token, refreshing it first when
// expired. With no credentials present it returns EmptyToken; a failed
// refresh returns the stale token and lets the server reject it.
func (r *Repository) Token(ctx context.Context) string {
	r.tokenMu.Lock()
	if r.data == nil {
		r.tokenMu.Unlock()
		r.log.Error("auth - token requested while signed out")
		return EmptyToken
	}

	var changed string
	if !r.data.IsTokenAlive() {
		if newData, err := r.api.RefreshToken(ctx, r.data.RefreshToken); err == nil {
			changed = r.applyLocked(newData)
			r.log.Debug("auth - token refreshed")
		} else {
			r.log.Error("auth - refresh failed", "error", err)
		}
	}
	token := r.data.AccessToken
	r.tokenMu.Unlock()

	if changed != "" {
		r.onTokenChanged.Publish(changed)
	}
	return token
}

// applyLocked normalizes and stores a new credential record; the caller
// holds tokenMu and publishes the returned token after unlocking.
func (r *Repository) applyLocked(data api.AuthData) string {
	if data.UserID == "" && r.data != nil {
		data.UserID = r.data.UserID
	}
	if !strings.HasPrefix(data.AccessToken, bearerPrefix) {
		data.AccessToken = bearerPrefix + data.AccessToken
	}
	if data.AccessTokenExp == 0 {
		data.AccessTokenExp = expiryFromClaims(data.AccessToken)
	}

	r.data = &data
	if err := r.st.SaveAuth(data); err != nil {
		r.log.Error("auth - failed to persist credentials", "error", err)
	}
	r.scheduleRefreshLocked()
	return data.AccessToken
}

func (r *Repository) scheduleRefreshLocked() {
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
	}
	if r.data == nil {
		return
	}

	delay := r.data.RemainingLifetime() - refreshMargin
	if delay < minRefreshDelay {
		delay = minRefreshDelay
	}
	r.refreshTimer = time.AfterFunc(delay, r.refreshNow)
}

func (r *Repository) refreshNow() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	r.tokenMu.Lock()
	if r.data == nil {
		r.tokenMu.Unlock()
		return
	}

	var changed string
	if newData, err := r.api.RefreshToken(ctx, r.data.RefreshToken); err == nil {
		changed = r.applyLocked(newData)
		r.log.Debug("auth - background refresh done")
	} else {
		r.log.Error("auth - background refresh failed", "error", err)
		r.scheduleRefreshLocked()
	}
	r.tokenMu.Unlock()

	if changed != "" {
		r.onTokenChanged.Publish(changed)
	}
}

// expiryFromClaims backfills a missing server-side expiry from the exp
// claim of the JWT itself. The signature is not verified; the server
// remains the authority, this only schedules refreshes.
func expiryFromClaims(token string) int64 {
	raw := strings.TrimPrefix(token, bearerPrefix)
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.UnixMilli()
}
