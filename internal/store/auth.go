package store

import (
	"fmt"
	"strconv"

	"github.com/subreax/reaction/internal/api"
)

const (
	keyUserID          = "user_id"
	keyAccessToken     = "access_token"
	keyAccessTokenExp  = "access_token_exp"
	keyRefreshToken    = "refresh_token"
	keyRefreshTokenExp = "refresh_token_exp"
)

// SaveAuth persists the whole credential record in one transaction,
// replacing the previous one: a crash mid-save never leaves a partial
// record behind. The user id is only written when present so a refresh
// response without one does not wipe it.
func (s *Store) SaveAuth(data api.AuthData) error {
	fields := map[string][]byte{
		keyAccessToken:     []byte(data.AccessToken),
		keyAccessTokenExp:  []byte(strconv.FormatInt(data.AccessTokenExp, 10)),
		keyRefreshToken:    []byte(data.RefreshToken),
		keyRefreshTokenExp: []byte(strconv.FormatInt(data.RefreshTokenExp, 10)),
	}
	if data.UserID != "" {
		fields[keyUserID] = []byte(data.UserID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin save: %w", err)
	}
	for key, value := range fields {
		if err := s.put(tx, key, value); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadAuth reads the credential record from one transaction snapshot. A
// record missing any required field is invalid as a whole: it is cleared
// and treated as signed-out.
func (s *Store) LoadAuth() (api.AuthData, bool) {
	tx, err := s.db.Begin()
	if err != nil {
		s.log.Error("store - failed to begin load", "error", err)
		return api.AuthData{}, false
	}

	userID, ok1 := s.get(tx, keyUserID)
	accessToken, ok2 := s.get(tx, keyAccessToken)
	accessExp, ok3 := s.getInt64(tx, keyAccessTokenExp)
	refreshToken, ok4 := s.get(tx, keyRefreshToken)
	refreshExp, ok5 := s.getInt64(tx, keyRefreshTokenExp)
	tx.Rollback()

	valid := ok1 && ok2 && ok3 && ok4 && ok5 &&
		len(accessToken) > 0 && len(refreshToken) > 0 &&
		accessExp != 0 && refreshExp != 0
	if !valid {
		if err := s.Clear(); err != nil {
			s.log.Error("store - failed to clear invalid auth record", "error", err)
		}
		return api.AuthData{}, false
	}

	return api.AuthData{
		UserID:          string(userID),
		AccessToken:     string(accessToken),
		AccessTokenExp:  accessExp,
		RefreshToken:    string(refreshToken),
		RefreshTokenExp: refreshExp,
	}, true
}

// Clear wipes the credential record (sign-out).
func (s *Store) Clear() error {
	_, err := s.db.Exec("DELETE FROM kv")
	return err
}

func (s *Store) getInt64(q rowQuerier, key string) (int64, bool) {
	raw, ok := s.get(q, key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
