package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/subreax/reaction/internal/api"
	"github.com/subreax/reaction/internal/user"
)

// TokenSource supplies the current bearer token and user id.
type TokenSource interface {
	Token(ctx context.Context) string
	UserID() string
}

// UserSource resolves user ids to profiles (with placeholder fallback).
type UserSource interface {
	GetByID(ctx context.Context, id string) user.User
}

// RemoteChatDataSource fetches chat data from the backend.
type RemoteChatDataSource interface {
	GetByID(ctx context.Context, chatID string) (Chat, error)
	GetChatsList(ctx context.Context) ([]Chat, error)
	GetChatMembers(ctx context.Context, chatID string) ([]user.User, error)
	GetChatMessages(ctx context.Context, chatID string) ([]Message, error)
}

type RemoteDataSource struct {
	api    *api.Client
	tokens TokenSource
	users  UserSource
	log    *slog.Logger
}

func NewRemoteDataSource(apiClient *api.Client, tokens TokenSource, users UserSource, log *slog.Logger) *RemoteDataSource {
	return &RemoteDataSource{api: apiClient, tokens: tokens, users: users, log: log}
}

func (r *RemoteDataSource) GetByID(ctx context.Context, chatID string) (Chat, error) {
	dto, err := r.api.GetChatDetails(ctx, r.tokens.Token(ctx), chatID)
	if err != nil {
		return Chat{}, err
	}
	return r.toChat(ctx, dto), nil
}

func (r *RemoteDataSource) GetChatsList(ctx context.Context) ([]Chat, error) {
	dtos, err := r.api.GetChatList(ctx, r.tokens.Token(ctx))
	if err != nil {
		return nil, err
	}
	chats := make([]Chat, 0, len(dtos))
	for _, dto := range dtos {
		chats = append(chats, r.toChat(ctx, dto))
	}
	return chats, nil
}

func (r *RemoteDataSource) GetChatMembers(ctx context.Context, chatID string) ([]user.User, error) {
	dtos, err := r.api.GetChatMembers(ctx, r.tokens.Token(ctx), chatID)
	if err != nil {
		return nil, err
	}
	members := make([]user.User, 0, len(dtos))
	for _, dto := range dtos {
		members = append(members, r.users.GetByID(ctx, dto.UserID))
	}
	return members, nil
}

func (r *RemoteDataSource) GetChatMessages(ctx context.Context, chatID string) ([]Message, error) {
	dtos, err := r.api.GetChatMessages(ctx, r.tokens.Token(ctx), chatID)
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(dtos))
	for _, dto := range dtos {
		messages = append(messages, r.toMessage(ctx, dto))
	}
	return messages, nil
}

func (r *RemoteDataSource) toChat(ctx context.Context, dto api.ChatDTO) Chat {
	c := Chat{
		ID:           dto.ID,
		Avatar:       dto.Avatar,
		Title:        dto.Title,
		MembersCount: dto.MembersCount,
		IsMuted:      dto.IsMuted,
		IsPinned:     dto.IsPinned,
	}
	if dto.LastMessage != nil {
		msg := r.toMessage(ctx, *dto.LastMessage)
		c.LastMessage = &msg
	}
	return c
}

func (r *RemoteDataSource) toMessage(ctx context.Context, dto api.MessageDTO) Message {
	return Message{
		ChatID:   dto.ChatID,
		From:     r.users.GetByID(ctx, dto.UserID),
		Content:  dto.Text,
		SentTime: time.UnixMilli(dto.SentTime),
		State:    NoState,
	}
}
