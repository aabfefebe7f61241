package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"lexgraph-backend/models"
)

var now = time.Now

// LocalStorage appends transcripts to a results_<timestamp>.jsonl file, one
// per store instance
type LocalStorage struct {
	basePath string
	file     string

	mu sync.Mutex
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	name := fmt.Sprintf("results_%s.jsonl", now().Format("20060102_150405"))
	return &LocalStorage{
		basePath: basePath,
		file:     filepath.Join(basePath, name),
	}, nil
}

// Path returns the file this store appends to
func (s *LocalStorage) Path() string {
	return s.file
}

// Save appends the transcript as one JSON line
func (s *LocalStorage) Save(ctx context.Context, t *models.Transcript) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prepare(t)

	line, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open results file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(line); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	return t.ID.String(), nil
}

// Load scans every results file under the base path for the transcript id
func (s *LocalStorage) Load(ctx context.Context, key string) (*models.Transcript, error) {
	files, err := filepath.Glob(filepath.Join(s.basePath, "results_*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list results files: %w", err)
	}
	// newest first
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := findInFile(path, key)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, ErrRecordNotFound
}

func findInFile(path, key string) (*models.Transcript, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var t models.Transcript
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			// a torn trailing line must not hide the rest of the file
			continue
		}
		if t.ID.String() == key {
			return &t, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return nil, nil
}
