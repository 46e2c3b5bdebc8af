package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/subreax/reaction/internal/api"
	"github.com/subreax/reaction/internal/appstate"
	"github.com/subreax/reaction/internal/auth"
	"github.com/subreax/reaction/internal/chat"
	"github.com/subreax/reaction/internal/connectivity"
	"github.com/subreax/reaction/internal/deeplink"
	"github.com/subreax/reaction/internal/socket"
	"github.com/subreax/reaction/internal/store"
	"github.com/subreax/reaction/internal/user"
	"github.com/subreax/reaction/pkg/config"
	"github.com/subreax/reaction/pkg/logging"
)

const readyTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New("reaction")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	st, err := store.Open(cfg.StorePath, cfg.StoreSecret, log)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer st.Close()

	apiClient := api.NewClient(cfg.BaseURL, log)
	authRepo := auth.NewRepository(apiClient, st, log)

	if !authRepo.IsSignedIn() {
		if cfg.Username == "" || cfg.Password == "" {
			return fmt.Errorf("no stored credentials; set REACTION_USERNAME and REACTION_PASSWORD")
		}
		err := authRepo.SignIn(ctx, auth.SignInData{
			Username: cfg.Username,
			Password: cfg.Password,
		})
		if err != nil {
			return fmt.Errorf("sign-in failed: %w", err)
		}
	}

	obs := connectivity.NewProbeObserver(log, cfg.ProbeAddress, cfg.ProbeInterval)
	appState := appstate.New(log, obs, cfg.RetryDelay)

	users := user.NewRepository(apiClient, authRepo, log)
	sock := socket.New(cfg.SocketURL, authRepo, users, appState, log)

	local := chat.NewInMemoryDataSource()
	if err := local.Load(ctx); err != nil {
		return err
	}
	chats := chat.NewRepository(chat.RepositoryDeps{
		Local:       local,
		Remote:      chat.NewRemoteDataSource(apiClient, authRepo, users, log),
		API:         apiClient,
		Tokens:      authRepo,
		Socket:      sock,
		AppState:    appState,
		Log:         log,
		WaitTimeout: cfg.WaitTimeout,
	})
	defer chats.Close()

	go obs.Run(ctx)
	appState.Start(ctx)
	appState.Restart()

	if err := waitReady(ctx, appState); err != nil {
		return err
	}

	me := users.CurrentUser(ctx)
	log.Info("client ready", "user_id", me.ID, "username", me.Name)

	// "reaction://join/..." as the first argument joins that chat
	if len(os.Args) > 1 {
		chatID, err := deeplink.ParseJoin(os.Args[1])
		if err != nil {
			return err
		}
		if chats.IsMember(chatID) {
			log.Info("already a member", "chat_id", chatID)
		} else {
			c, ok := chats.GetChatByID(ctx, chatID)
			if !ok {
				return fmt.Errorf("chat %s not found", chatID)
			}
			if err := chats.JoinChat(ctx, chatID); err != nil {
				return fmt.Errorf("failed to join %s: %w", chatID, err)
			}
			log.Info("joined chat", "chat_id", chatID, "title", c.Title)
		}
	}

	for _, c := range chats.GetChatsList(ctx, false) {
		log.Info("chat", "chat_id", c.ID, "title", c.Title, "members", c.MembersCount)
	}

	<-ctx.Done()
	sock.Stop()
	log.Info("shutting down")
	return nil
}

func waitReady(ctx context.Context, src *appstate.Source) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	changes, unsubscribe := src.Changes().Subscribe()
	defer unsubscribe()

	if src.State() == appstate.Ready {
		return nil
	}
	for {
		select {
		case st := <-changes:
			if st == appstate.Ready {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("client did not become ready: %w", ctx.Err())
		}
	}
}
