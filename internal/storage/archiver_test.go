package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/leadmail/internal/models"
)

func TestNewRunArchiverValidates(t *testing.T) {
	_, err := NewRunArchiver(Config{Region: "us-east-1", AccessKey: "a", SecretKey: "b"})
	assert.Error(t, err)
	_, err = NewRunArchiver(Config{Bucket: "runs", AccessKey: "a", SecretKey: "b"})
	assert.Error(t, err)
	_, err = NewRunArchiver(Config{Bucket: "runs", Region: "us-east-1"})
	assert.Error(t, err)
}

func TestArchivePutsJSONObject(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotType string
		gotBody string
		gotAuth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody = string(body)
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	archiver, err := NewRunArchiver(Config{
		Endpoint:     srv.URL,
		Region:       "us-east-1",
		AccessKey:    "key",
		SecretKey:    "secret",
		Bucket:       "runs",
		UsePathStyle: true,
	})
	require.NoError(t, err)

	run := &models.PromptRun{
		ID:        "run-1",
		UserID:    "u1",
		Subject:   "Hello",
		CreatedAt: time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, archiver.Archive(context.Background(), run))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/runs/prompt-runs/u1/2026/02/03/run-1.json", gotPath)
	assert.Equal(t, "application/json", gotType)
	assert.Contains(t, gotBody, `"subject":"Hello"`)
	assert.Contains(t, gotAuth, "AWS4-HMAC-SHA256")
}

func TestKeyStaysUnderPrefix(t *testing.T) {
	archiver, err := NewRunArchiver(Config{Region: "us-east-1", AccessKey: "a", SecretKey: "b", Bucket: "runs", Prefix: "prompt-runs"})
	require.NoError(t, err)
	created := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	for _, userID := range []string{"../../etc", "..", "a/b", "/root"} {
		key := archiver.Key(&models.PromptRun{ID: "run-1", UserID: userID, CreatedAt: created})
		assert.True(t, strings.HasPrefix(key, "prompt-runs/"), key)
		segments := strings.Split(key, "/")
		assert.Len(t, segments, 6, key)
		assert.NotContains(t, segments, "..", key)
	}

	key := archiver.Key(&models.PromptRun{ID: "run-1", UserID: "../../etc", CreatedAt: created})
	assert.Equal(t, "prompt-runs/..%2F..%2Fetc/2026/02/03/run-1.json", key)
}

func TestArchiveRequiresRunID(t *testing.T) {
	archiver, err := NewRunArchiver(Config{Region: "us-east-1", AccessKey: "a", SecretKey: "b", Bucket: "runs"})
	require.NoError(t, err)
	assert.Error(t, archiver.Archive(context.Background(), &models.PromptRun{}))
}
