package emit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/minio/crc64nvme"
)

const (
	// DefaultHashLength is the number of hex digits of the content hash used in filenames.
	DefaultHashLength = 16
	DefaultFilename    = "[name].[contenthash].js"
	DefaultCSSFilename = "[name].[contenthash].css"
)

// ContentHash returns the lowercase hex CRC-64/NVME of data truncated to length digits.
func ContentHash(data []byte, length int) string {
	h := crc64nvme.New()
	h.Write(data)
	sum := fmt.Sprintf("%016x", h.Sum64())
	if length <= 0 || length > len(sum) {
		return sum
	}
	return sum[:length]
}

// Filename expands the [name] and [contenthash] placeholders of a template.
// [contenthash:N] truncates the hash to N digits.
func Filename(template, name, hash string) string {
	out := strings.ReplaceAll(template, "[name]", name)
	for {
		start := strings.Index(out, "[contenthash")
		if start < 0 {
			return out
		}
		end := strings.IndexByte(out[start:], ']')
		if end < 0 {
			return out
		}
		end += start

		h := hash
		if n, err := strconv.Atoi(strings.TrimPrefix(out[start+len("[contenthash"):end], ":")); err == nil && n > 0 && n < len(h) {
			h = h[:n]
		}
		out = out[:start] + h + out[end+1:]
	}
}

// ValidateFilename checks that a template names each chunk uniquely.
func ValidateFilename(template string) error {
	if !strings.Contains(template, "[name]") {
		return fmt.Errorf("%w: %q must contain [name]", ErrInvalidFilename, template)
	}
	if strings.Contains(template, "..") || strings.HasPrefix(template, "/") {
		return fmt.Errorf("%w: %q must stay inside the output directory", ErrInvalidFilename, template)
	}
	return nil
}
