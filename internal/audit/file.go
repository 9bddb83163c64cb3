package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// FileShipper appends one JSON object per line. Rotation belongs to logrotate
// with copytruncate or to the container runtime.
type FileShipper struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileShipper(path string) (*FileShipper, error) {
	if path == "" {
		return nil, errors.New("file path is required")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileShipper{file: f}, nil
}

func (s *FileShipper) Ship(_ context.Context, e *Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(line, '\n'))
	return err
}

func (s *FileShipper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
