package photo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxFileSize   = 15 * 1024 * 1024
	DefaultDir    = "./photos"
	StaticURLBase = "/static/photos"
)

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrInvalidMimeType = errors.New("only jpeg, png and webp photos are accepted")
	ErrInvalidRef      = errors.New("invalid photo reference")
)

var allowedMimeTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Stored describes a saved photo. Ref is what requests keep in their photo
// list; it is relative to the store root.
type Stored struct {
	Ref      string    `json:"ref"`
	URL      string    `json:"url"`
	MimeType string    `json:"mime_type"`
	Size     int64     `json:"size"`
	SavedAt  time.Time `json:"saved_at"`
}

// DiskStore keeps request photos on the local filesystem under dated
// directories. Photos are never deleted; a request only references them.
type DiskStore struct {
	baseDir    string
	staticBase string
	now        func() time.Time
}

func NewDiskStore(baseDir, staticBase string) *DiskStore {
	if baseDir == "" {
		baseDir = DefaultDir
	}
	if staticBase == "" {
		staticBase = StaticURLBase
	}
	return &DiskStore{baseDir: baseDir, staticBase: strings.TrimRight(staticBase, "/"), now: time.Now}
}

func (s *DiskStore) BaseDir() string {
	return s.baseDir
}

func (s *DiskStore) StaticBase() string {
	return s.staticBase
}

// SaveFile stores an uploaded multipart file.
func (s *DiskStore) SaveFile(ctx context.Context, fileHeader *multipart.FileHeader) (*Stored, error) {
	if fileHeader.Size == 0 {
		return nil, ErrEmptyFile
	}
	if fileHeader.Size > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return s.Save(ctx, file)
}

// Save sniffs the content type from the first 512 bytes and writes the
// photo as <yyyy>/<mm>/<dd>/<uuid><ext>.
func (s *DiskStore) Save(ctx context.Context, r io.Reader) (*Stored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, 512)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyFile
	}
	mimeType := strings.Split(http.DetectContentType(buf[:n]), ";")[0]
	ext, ok := allowedMimeTypes[mimeType]
	if !ok {
		return nil, ErrInvalidMimeType
	}

	now := s.now()
	relDir := fmt.Sprintf("%d/%02d/%02d", now.Year(), now.Month(), now.Day())
	absDir := filepath.Join(s.baseDir, relDir)
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create photo directory: %w", err)
	}

	filename := uuid.New().String() + ext
	absPath := filepath.Join(absDir, filename)
	dst, err := os.Create(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	limited := io.LimitReader(r, MaxFileSize-int64(n)+1)
	written, err := io.Copy(dst, io.MultiReader(bytes.NewReader(buf[:n]), limited))
	if err != nil {
		_ = os.Remove(absPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if written > MaxFileSize {
		_ = os.Remove(absPath)
		return nil, ErrFileTooLarge
	}

	ref := relDir + "/" + filename
	return &Stored{
		Ref:      ref,
		URL:      s.staticBase + "/" + ref,
		MimeType: mimeType,
		Size:     written,
		SavedAt:  now,
	}, nil
}

// Exists reports whether ref names a stored photo. Refs that escape the
// store root are rejected.
func (s *DiskStore) Exists(ref string) (bool, error) {
	path, err := s.path(ref)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

func (s *DiskStore) path(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if ref == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", ErrInvalidRef
	}
	return filepath.Join(s.baseDir, clean), nil
}
