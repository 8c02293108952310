package upload

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// StateDB tracks which videos have been uploaded (and processed) so repeated
// runs do not re-send them.
type StateDB struct {
	db *sql.DB
}

// OpenStateDB opens (or creates) the SQLite state database at dir/state.db.
func OpenStateDB(dir string) (*StateDB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "state.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS uploaded_videos (
		path         TEXT PRIMARY KEY,
		size         INTEGER NOT NULL,
		hash         TEXT NOT NULL,
		video_id     TEXT NOT NULL,
		processed    INTEGER NOT NULL DEFAULT 0,
		uploaded_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state table: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Entry is the recorded upload of one local file.
type Entry struct {
	VideoID   string
	Processed bool
}

// Lookup returns the entry for a file with the same size and hash, or nil.
func (s *StateDB) Lookup(relPath string, size int64, hash string) (*Entry, error) {
	var e Entry
	err := s.db.QueryRow(
		`SELECT video_id, processed FROM uploaded_videos WHERE path = ? AND size = ? AND hash = ?`,
		relPath, size, hash,
	).Scan(&e.VideoID, &e.Processed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkUploaded records that a file was uploaded as videoID.
func (s *StateDB) MarkUploaded(relPath string, size int64, hash, videoID string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO uploaded_videos (path, size, hash, video_id) VALUES (?, ?, ?, ?)`,
		relPath, size, hash, videoID,
	)
	return err
}

// MarkProcessed records that the server processed the file's video.
func (s *StateDB) MarkProcessed(relPath string) error {
	_, err := s.db.Exec(`UPDATE uploaded_videos SET processed = 1 WHERE path = ?`, relPath)
	return err
}

// Close closes the state database.
func (s *StateDB) Close() error {
	return s.db.Close()
}

// HashFile computes the SHA-256 hash of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
