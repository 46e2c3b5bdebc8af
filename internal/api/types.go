package api

import "time"

// AuthData is the credential record issued on sign-in and replaced
// wholesale on every refresh. Timestamps are unix milliseconds, matching
// the wire format.
type AuthData struct {
	UserID          string `json:"userId,omitempty"`
	AccessToken     string `json:"access_token"`
	AccessTokenExp  int64  `json:"expires"`
	RefreshToken    string `json:"refresh_token"`
	RefreshTokenExp int64  `json:"refresh_token_expires"`
}

func (d AuthData) RemainingLifetime() time.Duration {
	remaining := time.UnixMilli(d.AccessTokenExp).Sub(time.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (d AuthData) IsTokenAlive() bool {
	return d.RemainingLifetime() > 0
}

type SignInRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	RememberMe   bool   `json:"rememberMe"`
	AuthStrategy string `json:"authStrategy"`
}

type SignUpRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserDTO struct {
	ID           string `json:"id"`
	Name         string `json:"username"`
	Avatar       string `json:"avatarUrl"`
	LastActivity int64  `json:"lastActivity"`
}

type MessageDTO struct {
	UserID   string `json:"userId"`
	ChatID   string `json:"roomId"`
	Text     string `json:"text"`
	SentTime int64  `json:"date"`
}

type ChatDTO struct {
	ID           string      `json:"roomId"`
	Avatar       string      `json:"avatarUrl"`
	Title        string      `json:"name"`
	LastMessage  *MessageDTO `json:"lastMessage"`
	MembersCount int         `json:"membersCount"`
	IsMuted      bool        `json:"isMuted"`
	IsPinned     bool        `json:"isPinned"`
}

type ChatMessagesDTO struct {
	Messages []MessageDTO `json:"messages"`
}

type MemberDTO struct {
	UserID string `json:"userId"`
	Role   int    `json:"role"`
}

// ChatPointer identifies a (chat, user) pair for mute/unmute calls.
type ChatPointer struct {
	ChatID string `json:"roomId"`
	UserID string `json:"userId"`
}
