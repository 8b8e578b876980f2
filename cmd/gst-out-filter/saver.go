package main

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/devyx/gstoutfilter"
	"github.com/devyx/gstoutfilter/internal/config"
)

// frameSaver writes every Nth readback frame to disk.
type frameSaver struct {
	cfg config.OutputConfig

	received atomic.Uint64
	saved    atomic.Uint64
	failed   atomic.Uint64
}

func newFrameSaver(cfg config.OutputConfig) (*frameSaver, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	slog.Info("Frame saving enabled",
		"directory", cfg.Dir,
		"format", cfg.Format,
		"every_n", cfg.EveryN,
	)
	return &frameSaver{cfg: cfg}, nil
}

func (s *frameSaver) run(ctx context.Context, frames <-chan gstoutfilter.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			n := s.received.Add(1)
			if (n-1)%s.cfg.EveryN != 0 {
				continue
			}
			if err := s.save(frame); err != nil {
				slog.Error("Failed to save frame", "error", err, "seq", frame.Seq)
				s.failed.Add(1)
				continue
			}
			s.saved.Add(1)
		}
	}
}

func (s *frameSaver) save(frame gstoutfilter.Frame) error {
	filename := fmt.Sprintf("frame_%06d_%s.%s", frame.Seq, frame.Timestamp.Format("20060102_150405.000"), s.cfg.Format)
	path := filepath.Join(s.cfg.Dir, filename)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	img := bgraToRGBA(frame)
	switch s.cfg.Format {
	case "png":
		if err := png.Encode(file, img); err != nil {
			return fmt.Errorf("failed to encode PNG: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(file, img, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
			return fmt.Errorf("failed to encode JPEG: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format: %s", s.cfg.Format)
	}
	return nil
}

// bgraToRGBA converts a strided BGRA frame to a tightly packed RGBA image.
func bgraToRGBA(frame gstoutfilter.Frame) *image.RGBA {
	w, h := int(frame.Width), int(frame.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		src := frame.Data[y*int(frame.Linesize) : y*int(frame.Linesize)+w*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			dst[x+0] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+0]
			dst[x+3] = src[x+3]
		}
	}
	return img
}
