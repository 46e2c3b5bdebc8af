// Package deeplink parses and formats the app's reaction:// links.
package deeplink

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	scheme   = "reaction"
	joinHost = "join"
)

var ErrNotJoinLink = errors.New("deeplink: not a join link")

// ParseJoin extracts the chat id from a reaction://join/{chatId} link.
func ParseJoin(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("deeplink: %w", err)
	}
	if u.Scheme != scheme || u.Host != joinHost {
		return "", ErrNotJoinLink
	}

	chatID := strings.Trim(u.Path, "/")
	if chatID == "" || strings.Contains(chatID, "/") {
		return "", ErrNotJoinLink
	}
	return chatID, nil
}

// FormatJoin builds the shareable invite link for a chat.
func FormatJoin(chatID string) string {
	return fmt.Sprintf("%s://%s/%s", scheme, joinHost, chatID)
}
