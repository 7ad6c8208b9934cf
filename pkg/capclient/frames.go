package capclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// FrameSource produces the current screen frame as a data URL or bare
// base64.
type FrameSource interface {
	Capture(ctx context.Context) (string, error)
}

// FrameFunc adapts a function to FrameSource.
type FrameFunc func(ctx context.Context) (string, error)

// Capture implements FrameSource.
func (f FrameFunc) Capture(ctx context.Context) (string, error) { return f(ctx) }

// ErrNoFrame is returned when no frame is available yet.
var ErrNoFrame = errors.New("capclient: no frame available")

// StaticFrame always returns the same image.
type StaticFrame struct {
	mu      sync.RWMutex
	dataURL string
}

// NewStaticFrame creates a StaticFrame from raw image bytes.
func NewStaticFrame(image []byte) *StaticFrame {
	s := &StaticFrame{}
	s.Set(image)
	return s
}

// Set replaces the image. The mime type is sniffed from the bytes.
func (s *StaticFrame) Set(image []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(image) == 0 {
		s.dataURL = ""
		return
	}
	s.dataURL = EncodeDataURL(image)
}

// Capture implements FrameSource.
func (s *StaticFrame) Capture(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dataURL == "" {
		return "", ErrNoFrame
	}
	return s.dataURL, nil
}

// FileFrame re-reads an image file on every capture, so another process
// can keep replacing it.
type FileFrame struct {
	Path string

	// MaxAge rejects files older than this when positive.
	MaxAge time.Duration
}

// Capture implements FrameSource.
func (f *FileFrame) Capture(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		return "", fmt.Errorf("capclient: stat frame: %w", err)
	}
	if f.MaxAge > 0 && time.Since(info.ModTime()) > f.MaxAge {
		return "", fmt.Errorf("%w: %s is %s old", ErrNoFrame, f.Path, time.Since(info.ModTime()).Round(time.Second))
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("capclient: read frame: %w", err)
	}
	if len(data) == 0 {
		return "", ErrNoFrame
	}
	return EncodeDataURL(data), nil
}

// EncodeDataURL wraps image bytes in a base64 data URL.
func EncodeDataURL(image []byte) string {
	mime := http.DetectContentType(image)
	if mime == "application/octet-stream" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}
