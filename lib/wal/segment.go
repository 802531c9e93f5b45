package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// segment is one append-only log file.
type segment struct {
	id   uint64
	path string

	mu   sync.Mutex
	file *os.File
	size int64
}

func newSegment(id uint64, dir string) *segment {
	return &segment{
		id:   id,
		path: filepath.Join(dir, fmt.Sprintf("wal_%016x.log", id)),
	}
}

func (s *segment) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return nil
	}
	// O_APPEND makes concurrent appends atomic at the OS level.
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	s.file = f
	s.size = stat.Size()
	return nil
}

func (s *segment) append(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("wal: segment %d not open", s.id)
	}
	n, err := s.file.Write(data)
	s.size += int64(n)
	return err
}

func (s *segment) sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("wal: segment %d not open", s.id)
	}
	return s.file.Sync()
}

func (s *segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	syncErr := s.file.Sync()
	err := s.file.Close()
	s.file = nil
	if err == nil {
		err = syncErr
	}
	return err
}

func (s *segment) full(limit int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size >= limit
}
