package emit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// Encoding is a precompression format written next to each output file.
type Encoding string

const (
	EncodingGzip Encoding = "gzip"
	EncodingZstd Encoding = "zstd"
)

// Ext returns the file extension of the encoding.
func (e Encoding) Ext() (string, error) {
	switch e {
	case EncodingGzip:
		return ".gz", nil
	case EncodingZstd:
		return ".zst", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, string(e))
	}
}

// Write stores files below dir, plus one compressed sibling per encoding.
func Write(dir string, files []File, encodings []Encoding) error {
	for _, enc := range encodings {
		if _, err := enc.Ext(); err != nil {
			return err
		}
	}

	for _, f := range files {
		p := filepath.Join(dir, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		// #nosec G306 - build output is served publicly
		if err := os.WriteFile(p, f.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Name, err)
		}

		for _, enc := range encodings {
			data, err := Compress(f.Data, enc)
			if err != nil {
				return fmt.Errorf("failed to compress %s: %w", f.Name, err)
			}
			ext, _ := enc.Ext()
			// #nosec G306 - build output is served publicly
			if err := os.WriteFile(p+ext, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s%s: %w", f.Name, ext, err)
			}
		}

		log.Debug().Str("file", f.Name).Int("bytes", len(f.Data)).Msg("Wrote file")
	}
	return nil
}

// Compress encodes data with the given encoding at its best compression level.
func Compress(data []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingGzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case EncodingZstd:
		w, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, err
		}
		defer w.Close()
		return w.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, string(enc))
	}
}
