// Package compression provides transparent payload framing for artifact
// bytes moving through the Remote Loader: compress on write when a payload
// crosses a size threshold, decompress on read driven strictly by an
// explicit algorithm tag (never inferred from content, per spec §4.4).
//
// No third-party compression library is directly exercised anywhere in
// the retrieval pack (klauspost/compress appears only as an indirect,
// unimported transitive dependency of an unrelated repo) — compress/gzip
// and compress/flate are the standard-library codecs every corpus repo
// that touches HTTP compression would reach for, so this component is one
// of the few built directly on the standard library; see DESIGN.md.
package compression

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Algorithm names the wire-level compression tag.
type Algorithm string

const (
	Gzip    Algorithm = "gzip"
	Deflate Algorithm = "deflate"
	None    Algorithm = "none"
)

// DefaultThreshold is the byte length at or above which Compress actually
// compresses; below it, payloads pass through untouched.
const DefaultThreshold = 1024 // 1 KiB

// Codec compresses/decompresses payloads and tracks running totals.
type Codec struct {
	threshold int
	logger    *slog.Logger

	originalBytes   atomic.Uint64
	compressedBytes atomic.Uint64
}

// New creates a Codec. threshold <= 0 uses DefaultThreshold.
func New(threshold int, logger *slog.Logger) *Codec {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Codec{threshold: threshold, logger: logger}
}

// Compress encodes data under algo if len(data) >= threshold and algo is
// not None; otherwise it returns data unchanged with the None tag. The
// returned Algorithm is the one actually used — callers must persist it
// alongside the bytes, since Decompress never infers it.
func (c *Codec) Compress(data []byte, algo Algorithm) ([]byte, Algorithm, error) {
	if algo == None || len(data) < c.threshold {
		return data, None, nil
	}

	var buf bytes.Buffer
	var w io.WriteCloser
	switch algo {
	case Gzip:
		w = gzip.NewWriter(&buf)
	case Deflate:
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, "", fmt.Errorf("create deflate writer: %w", err)
		}
		w = fw
	default:
		return nil, "", fmt.Errorf("unknown compression algorithm %q", algo)
	}

	if _, err := w.Write(data); err != nil {
		return nil, "", fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("flush compressor: %w", err)
	}

	c.record(uint64(len(data)), uint64(buf.Len()))
	return buf.Bytes(), algo, nil
}

// Decompress reverses Compress. algo is authoritative; the data is never
// sniffed to guess its encoding.
func (c *Codec) Decompress(data []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case None, "":
		return data, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open gzip reader: %w", err)
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	case Deflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algo)
	}
}

func (c *Codec) record(original, compressed uint64) {
	c.originalBytes.Add(original)
	c.compressedBytes.Add(compressed)
	if c.logger != nil {
		c.logger.Debug("compressed payload",
			"original", humanize.Bytes(original),
			"compressed", humanize.Bytes(compressed))
	}
}

// Stats summarizes cumulative compression activity.
type Stats struct {
	OriginalBytes   uint64
	CompressedBytes uint64
	Ratio           float64 // compressed/original; 0 if no bytes processed yet
}

// Stats returns the running totals and average ratio.
func (c *Codec) Stats() Stats {
	orig := c.originalBytes.Load()
	comp := c.compressedBytes.Load()
	s := Stats{OriginalBytes: orig, CompressedBytes: comp}
	if orig > 0 {
		s.Ratio = float64(comp) / float64(orig)
	}
	return s
}
