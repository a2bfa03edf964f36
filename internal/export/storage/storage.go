// Package storage keeps export artifacts under a per-account directory.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/afero"
)

var (
	ErrFileMissing = errors.New("artifact_missing")
	ErrInvalidName = errors.New("invalid_artifact_name")
	ErrClaimed     = errors.New("artifact_claimed")
)

type Storage struct {
	fs   afero.Fs
	root string

	// claimMu serializes Claim within the process; O_EXCL covers other
	// processes sharing a real filesystem.
	claimMu sync.Mutex
}

func New(fsys afero.Fs, root string) *Storage {
	if strings.TrimSpace(root) == "" {
		root = "exports"
	}
	return &Storage{fs: fsys, root: filepath.Clean(root)}
}

// SafeName reduces a caller supplied name to its final path element so it
// can never address a file outside the account directory.
func SafeName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	if base == "/" || base == "." || base == ".." || base == "" {
		return "", ErrInvalidName
	}
	return base, nil
}

func (s *Storage) path(accountID snowflake.ID, name string) (string, error) {
	safe, err := SafeName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, accountID.String(), safe), nil
}

// Write stores data under name, replacing any previous file atomically.
func (s *Storage) Write(accountID snowflake.ID, name string, data []byte) error {
	target, err := s.path(accountID, name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := s.fs.Rename(tmpName, target); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Claim creates an empty file under name and fails with ErrClaimed when the
// name already exists. A later Write replaces the claimed file in place.
func (s *Storage) Claim(accountID snowflake.ID, name string) error {
	target, err := s.path(accountID, name)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if _, err := s.fs.Stat(target); err == nil {
		return ErrClaimed
	}
	f, err := s.fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if errors.Is(err, fs.ErrExist) {
		return ErrClaimed
	}
	if err != nil {
		return fmt.Errorf("claim %s: %w", name, err)
	}
	return f.Close()
}

// Remove deletes the named files, ignoring ones that are already gone.
func (s *Storage) Remove(accountID snowflake.ID, names ...string) error {
	var errs []error
	for _, name := range names {
		target, err := s.path(accountID, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.fs.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Storage) Read(accountID snowflake.ID, name string) ([]byte, error) {
	target, err := s.path(accountID, name)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrFileMissing
	}
	return data, err
}

// Stat returns ErrFileMissing for absent files and directories.
func (s *Storage) Stat(accountID snowflake.ID, name string) (os.FileInfo, error) {
	target, err := s.path(accountID, name)
	if err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrFileMissing
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrFileMissing
	}
	return info, nil
}

func (s *Storage) Open(accountID snowflake.ID, name string) (afero.File, error) {
	target, err := s.path(accountID, name)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrFileMissing
	}
	return f, err
}

// SweepTemp removes temp files left behind by interrupted writes when they
// were last modified before cutoff. It returns the number removed.
func (s *Storage) SweepTemp(cutoff time.Time) (int, error) {
	if _, err := s.fs.Stat(s.root); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	removed := 0
	err := afero.Walk(s.fs, s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasPrefix(info.Name(), ".") || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
		return nil
	})
	return removed, err
}
