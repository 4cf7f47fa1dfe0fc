package db

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/tmarkov/bankcore/internal/models"
)

// CopyTo copies the live database file to path, overwriting any existing
// file. Safe here because all access is single-session and synchronous, so
// no write is in flight while the copy runs.
func (s *Store) CopyTo(path string) error {
	if err := copyFile(s.path, path); err != nil {
		return fmt.Errorf("failed to copy store: %w", err)
	}
	return nil
}

// ReplaceWith overwrites the live database file with the file at path and
// reconnects. Used to roll a failed restore back to the pre-restore copy.
func (s *Store) ReplaceWith(path string) error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	if err := copyFile(path, s.path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("reopen store: %w: %v", models.ErrStoreUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping reopened store: %w: %v", models.ErrStoreUnavailable, err)
	}
	s.db = db
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
