package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const requestTimeout = 30 * time.Second

// Client talks to the backend REST API. Every call except sign-in,
// sign-up and refresh requires the caller to pass the current bearer
// token.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL string, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api",
		http:    &http.Client{Timeout: requestTimeout},
		log:     log,
	}
}

func (c *Client) SignIn(ctx context.Context, username, password string) (AuthData, error) {
	req := SignInRequest{
		Username:     username,
		Password:     password,
		RememberMe:   true,
		AuthStrategy: "jwt",
	}
	var out AuthData
	err := c.do(ctx, http.MethodPost, "/auth/sign-in", "", req, &out)
	return out, err
}

func (c *Client) SignUp(ctx context.Context, email, username, password string) error {
	req := SignUpRequest{Email: email, Username: username, Password: password}
	return c.do(ctx, http.MethodPost, "/auth/sign-up", "", req, nil)
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (AuthData, error) {
	var out AuthData
	path := "/auth/update-refresh-token?token=" + url.QueryEscape(refreshToken)
	err := c.do(ctx, http.MethodGet, path, "", nil, &out)
	return out, err
}

func (c *Client) GetUserDetails(ctx context.Context, token, userID string) (UserDTO, error) {
	var out UserDTO
	err := c.do(ctx, http.MethodGet, "/user/getDetails/"+url.PathEscape(userID), token, nil, &out)
	return out, err
}

func (c *Client) GetChatList(ctx context.Context, token string) ([]ChatDTO, error) {
	var out []ChatDTO
	err := c.do(ctx, http.MethodGet, "/room/getUserRooms", token, nil, &out)
	return out, err
}

func (c *Client) GetChatDetails(ctx context.Context, token, chatID string) (ChatDTO, error) {
	var out ChatDTO
	err := c.do(ctx, http.MethodGet, "/room/roomDetails/"+url.PathEscape(chatID), token, nil, &out)
	return out, err
}

func (c *Client) GetChatMembers(ctx context.Context, token, chatID string) ([]MemberDTO, error) {
	var out []MemberDTO
	err := c.do(ctx, http.MethodGet, "/room/members/"+url.PathEscape(chatID), token, nil, &out)
	return out, err
}

func (c *Client) GetChatMessages(ctx context.Context, token, chatID string) ([]MessageDTO, error) {
	var out ChatMessagesDTO
	err := c.do(ctx, http.MethodGet, "/room/roomChat/"+url.PathEscape(chatID), token, nil, &out)
	return out.Messages, err
}

func (c *Client) MuteChat(ctx context.Context, token string, ptr ChatPointer) error {
	return c.do(ctx, http.MethodPut, "/room/muteRoom", token, ptr, nil)
}

func (c *Client) UnmuteChat(ctx context.Context, token string, ptr ChatPointer) error {
	return c.do(ctx, http.MethodPut, "/room/unmuteRoom", token, ptr, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindUnspecified, Message: err.Error()}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindUnspecified, Message: err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := parseErrorBody(resp)
		c.log.Debug("api - request failed",
			"method", method, "path", path,
			"status", resp.StatusCode, "kind", apiErr.Kind.String())
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindParse, Message: err.Error()}
	}
	return nil
}

// parseErrorBody maps an error response to an Error. Bodies look like
// {"statusCode": n, "message": "..."} or {"message": [...]}; anything
// else degrades to a plain server error.
func parseErrorBody(resp *http.Response) *Error {
	kind := KindServer
	if resp.StatusCode < http.StatusInternalServerError {
		kind = KindBadRequest
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var body struct {
		StatusCode int             `json:"statusCode"`
		Message    json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Message) == 0 {
		return &Error{
			Kind:       KindServer,
			StatusCode: resp.StatusCode,
			Message:    "failed to parse error body: " + strings.TrimSpace(string(raw)),
		}
	}

	return &Error{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		Message:    decodeMessage(body.Message),
	}
}

// decodeMessage accepts either a plain string or an array of strings, in
// which case the first entry wins.
func decodeMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return strings.TrimSpace(string(raw))
}
