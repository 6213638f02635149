package service

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/cbt-backend/internal/config"
)

// Media upload errors.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
)

// Image types accepted for question media, keyed by sniffed MIME type.
var allowedMIMETypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// MediaService stores question images on local disk.
type MediaService struct {
	cfg *config.Config
}

// NewMediaService creates a new MediaService.
func NewMediaService(cfg *config.Config) *MediaService {
	return &MediaService{cfg: cfg}
}

// SaveUpload stores an uploaded image under a random name and returns its
// public URL path. The type is detected from the file content, not from the
// client-supplied header.
func (s *MediaService) SaveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	if header.Size > s.cfg.MaxUploadBytes {
		return "", fmt.Errorf("%w: %d bytes (max: %d)", ErrFileTooLarge, header.Size, s.cfg.MaxUploadBytes)
	}

	sniff := make([]byte, 512)
	n, err := io.ReadFull(file, sniff)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	contentType := http.DetectContentType(sniff[:n])
	ext, ok := allowedMIMETypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s (allowed: %s)",
			ErrUnsupportedFileType, contentType, strings.Join(allowedTypes(), ", "))
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	filename := uuid.New().String() + ext
	dst, err := os.Create(filepath.Join(s.cfg.UploadDir, filename))
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	// The limit guards against a header that understates the size.
	written, err := io.Copy(dst, io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if written > s.cfg.MaxUploadBytes {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("%w: max %d bytes", ErrFileTooLarge, s.cfg.MaxUploadBytes)
	}

	return "/uploads/" + filename, nil
}

func allowedTypes() []string {
	types := make([]string, 0, len(allowedMIMETypes))
	for t := range allowedMIMETypes {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
