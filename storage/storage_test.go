package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"lexgraph-backend/models"
	"lexgraph-backend/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)
	assert.Regexp(t, `results_\d{8}_\d{6}\.jsonl$`, store.Path())

	ctx := context.Background()
	first := &models.Transcript{Question: "q1", ModelResponses: []string{"a", "b"}, FinalAnswer: "x"}
	second := &models.Transcript{Question: "q2", FinalAnswer: "y"}

	k1, err := store.Save(ctx, first)
	require.NoError(t, err)
	k2, err := store.Save(ctx, second)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, first.ID.String(), k1)
	assert.False(t, first.CreatedAt.IsZero())

	file, err := os.Open(store.Path())
	require.NoError(t, err)
	defer file.Close()

	var lines []models.Transcript
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var tr models.Transcript
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &tr))
		lines = append(lines, tr)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "q1", lines[0].Question)
	assert.Equal(t, []string{"a", "b"}, lines[0].ModelResponses)
	assert.Equal(t, []string{}, lines[1].ModelResponses)
}

func TestLocalStorageLoad(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	// an older run in the same directory
	older, err := NewLocalStorage(dir)
	require.NoError(t, err)
	older.file = older.file[:len(older.file)-len(".jsonl")] + "_old.jsonl"
	oldKey, err := older.Save(ctx, &models.Transcript{Question: "old", FinalAnswer: "o"})
	require.NoError(t, err)

	store, err := NewLocalStorage(dir)
	require.NoError(t, err)
	key, err := store.Save(ctx, &models.Transcript{Question: "new", FinalAnswer: "n"})
	require.NoError(t, err)

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Question)

	got, err = store.Load(ctx, oldKey)
	require.NoError(t, err)
	assert.Equal(t, "old", got.Question)

	_, err = store.Load(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestLocalStorageSkipsTornLines(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(store.Path(), []byte("{\"id\": \n"), 0644))
	key, err := store.Save(ctx, &models.Transcript{Question: "q", FinalAnswer: "a"})
	require.NoError(t, err)

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "a", got.FinalAnswer)
}

func TestLocalStorageConcurrentSaves(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Save(context.Background(), &models.Transcript{Question: "q", FinalAnswer: "a"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	assert.Equal(t, 20, n)
}

type fakeTranscripts struct {
	rows map[uuid.UUID]*models.Transcript
}

func (f *fakeTranscripts) Create(_ context.Context, t *models.Transcript) error {
	f.rows[t.ID] = t
	return nil
}

func (f *fakeTranscripts) GetByID(_ context.Context, id uuid.UUID) (*models.Transcript, error) {
	t, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	return t, nil
}

func (f *fakeTranscripts) ListRecent(_ context.Context, limit, offset int) ([]*models.Transcript, error) {
	var out []*models.Transcript
	for _, t := range f.rows {
		out = append(out, t)
	}
	return out, nil
}

func TestDBStorage(t *testing.T) {
	repo := &fakeTranscripts{rows: map[uuid.UUID]*models.Transcript{}}
	store, err := NewStorage(context.Background(), StorageConfig{Type: StorageTypePostgres}, repo)
	require.NoError(t, err)

	ctx := context.Background()
	key, err := store.Save(ctx, &models.Transcript{Question: "q", FinalAnswer: "a", CreatedAt: time.Unix(0, 0)})
	require.NoError(t, err)

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "q", got.Question)
	assert.Equal(t, time.Unix(0, 0), got.CreatedAt)

	lister, ok := store.(Lister)
	require.True(t, ok)
	all, err := lister.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = store.Load(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = store.Load(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestNewStorage(t *testing.T) {
	ctx := context.Background()

	_, err := NewStorage(ctx, StorageConfig{Type: "ftp"}, nil)
	assert.Error(t, err)

	_, err = NewStorage(ctx, StorageConfig{Type: StorageTypePostgres}, nil)
	assert.Error(t, err)

	s, err := NewStorage(ctx, StorageConfig{Type: StorageTypeLocal, LocalPath: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, "", normalizePrefix(""))
	assert.Equal(t, "transcripts/", normalizePrefix("transcripts"))
	assert.Equal(t, "transcripts/", normalizePrefix("/transcripts/"))
}
