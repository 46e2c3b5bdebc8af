package store

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/subreax/reaction/internal/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleAuth() api.AuthData {
	return api.AuthData{
		UserID:          "user-1",
		AccessToken:     "Bearer access-secret-value",
		AccessTokenExp:  time.Now().Add(time.Hour).UnixMilli(),
		RefreshToken:    "refresh-secret-value",
		RefreshTokenExp: time.Now().Add(24 * time.Hour).UnixMilli(),
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	st, err := Open(path, "passphrase", testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer st.Close()

	want := sampleAuth()
	if err := st.SaveAuth(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok := st.LoadAuth()
	if !ok {
		t.Fatal("load failed")
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReopenWithSamePassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	want := sampleAuth()

	st, err := Open(path, "passphrase", testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := st.SaveAuth(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	st.Close()

	st, err = Open(path, "passphrase", testLogger())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer st.Close()

	got, ok := st.LoadAuth()
	if !ok || got != want {
		t.Fatalf("got %+v, %v", got, ok)
	}
}

func TestWrongPassphraseYieldsNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	st, err := Open(path, "right", testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := st.SaveAuth(sampleAuth()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	st.Close()

	st, err = Open(path, "wrong", testLogger())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer st.Close()

	if _, ok := st.LoadAuth(); ok {
		t.Fatal("wrong passphrase decrypted the credentials")
	}
}

func TestPartialRecordIsDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	st, err := Open(path, "passphrase", testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer st.Close()

	data := sampleAuth()
	data.RefreshToken = ""
	if err := st.SaveAuth(data); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if _, ok := st.LoadAuth(); ok {
		t.Fatal("incomplete record loaded")
	}
	// the broken record must be gone, not retried forever
	if _, ok := st.LoadAuth(); ok {
		t.Fatal("incomplete record survived the cleanup")
	}
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	st, err := Open(path, "passphrase", testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer st.Close()

	if err := st.SaveAuth(sampleAuth()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := st.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, ok := st.LoadAuth(); ok {
		t.Fatal("credentials survived Clear")
	}
}

func TestConcurrentSaveLoadNeverMixesRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	st, err := Open(path, "passphrase", testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer st.Close()

	a := sampleAuth()
	b := sampleAuth()
	b.AccessToken = "Bearer access-other"
	b.RefreshToken = "refresh-other"
	b.AccessTokenExp++
	b.RefreshTokenExp++

	if err := st.SaveAuth(a); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			if err := st.SaveAuth(b); err != nil {
				t.Errorf("save failed: %v", err)
				return
			}
			if err := st.SaveAuth(a); err != nil {
				t.Errorf("save failed: %v", err)
				return
			}
		}
	}()

	// every read must observe one of the two complete records, never a
	// blend of both
	for {
		select {
		case <-done:
			return
		default:
		}
		got, ok := st.LoadAuth()
		if !ok {
			t.Fatal("record vanished mid-save")
		}
		if got != a && got != b {
			t.Fatalf("mixed record observed: %+v", got)
		}
	}
}

func TestTokensAreEncryptedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	st, err := Open(path, "passphrase", testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := st.SaveAuth(sampleAuth()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	st.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	for _, secret := range [][]byte{[]byte("access-secret-value"), []byte("refresh-secret-value")} {
		if bytes.Contains(raw, secret) {
			t.Fatalf("%q stored in plaintext", secret)
		}
	}
}
