package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const defaultChunkSize = 64 * 1024

// FileMetadata combines filesystem stat data with a content checksum.
// It is immutable once computed for a given file version.
type FileMetadata struct {
	Path       string
	Filename   string
	SizeBytes  int64
	Checksum   string
	CreatedAt  time.Time
	ModifiedAt time.Time
	Mode       fs.FileMode
}

// Service computes and verifies content checksums. All access is read-only.
type Service struct {
	chunkSize int
}

func NewService() *Service {
	return &Service{chunkSize: defaultChunkSize}
}

// Checksum streams the file through SHA-256 in fixed-size chunks so large
// spreadsheets and downloaded artifacts are never held in memory whole.
func (s *Service) Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %q for checksum: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, s.chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to read %q for checksum: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the checksum and compares it against the expected
// digest. It has no side effects.
func (s *Service) Verify(path string, expected string) (bool, error) {
	actual, err := s.Checksum(path)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

// Metadata stats the file and attaches its checksum.
func (s *Service) Metadata(path string) (*FileMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", path, err)
	}

	checksum, err := s.Checksum(path)
	if err != nil {
		return nil, err
	}

	return &FileMetadata{
		Path:       path,
		Filename:   filepath.Base(path),
		SizeBytes:  info.Size(),
		Checksum:   checksum,
		CreatedAt:  info.ModTime(),
		ModifiedAt: info.ModTime(),
		Mode:       info.Mode(),
	}, nil
}
