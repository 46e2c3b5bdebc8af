package store

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// Store is the durable key-value record for the signed-in user's
// credentials. Values are sealed with a key derived from the configured
// passphrase, so the database file alone is not enough to read tokens.
type Store struct {
	db  *sql.DB
	key [32]byte
	log *slog.Logger
}

func Open(path, passphrase string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	// WAL mode allows readers to work while a writer is writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// waits instead of an immediate SQLITE_BUSY error
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db, log: log}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	salt, err := s.loadOrCreateSalt()
	if err != nil {
		return nil, err
	}

	derived, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive store key: %w", err)
	}
	copy(s.key[:], derived)

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		k TEXT PRIMARY KEY,
		v BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		k TEXT PRIMARY KEY,
		v BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) loadOrCreateSalt() ([]byte, error) {
	var salt []byte
	err := s.db.QueryRow("SELECT v FROM meta WHERE k = 'salt'").Scan(&salt)
	if err == nil {
		return salt, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to load salt: %w", err)
	}

	salt = make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := s.db.Exec("INSERT INTO meta (k, v) VALUES ('salt', ?)", salt); err != nil {
		return nil, fmt.Errorf("failed to persist salt: %w", err)
	}
	return salt, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rowQuerier lets reads run either directly on the pool or inside a
// transaction snapshot.
type rowQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func (s *Store) put(tx *sql.Tx, key string, value []byte) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		"INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v",
		key, sealed,
	)
	return err
}

func (s *Store) get(q rowQuerier, key string) ([]byte, bool) {
	var sealed []byte
	err := q.QueryRow("SELECT v FROM kv WHERE k = ?", key).Scan(&sealed)
	if err != nil {
		if err != sql.ErrNoRows {
			s.log.Error("store - read failed", "key", key, "error", err)
		}
		return nil, false
	}
	return s.open(sealed)
}

func (s *Store) seal(plain []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *Store) open(sealed []byte) ([]byte, bool) {
	if len(sealed) < 24 {
		return nil, false
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		s.log.Error("store - failed to unseal value; wrong passphrase?")
		return nil, false
	}
	return plain, true
}
