package transform

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
)

// Compression algorithm names
const (
	Gzip = "gzip"
	Zstd = "zstd"
	LZ4  = "lz4"
	None = "none"
)

// Compression is a lossless compression transformation
type Compression struct {
	algorithm string
	level     int
}

// NewCompression returns a compression transformation for the named
// algorithm. An empty name selects gzip; level 0 selects the default level.
func NewCompression(algorithm string, level int) (*Compression, error) {
	name := strings.ToLower(algorithm)
	switch name {
	case "":
		name = Gzip
	case Gzip, Zstd, LZ4, None:
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algorithm)
	}
	return &Compression{algorithm: name, level: level}, nil
}

// Algorithm returns the algorithm name
func (c *Compression) Algorithm() string {
	return c.algorithm
}

// Apply implements Transformation
func (c *Compression) Apply(sink store.Sink) store.Sink {
	return store.SinkFunc(func() (io.WriteCloser, error) {
		out, err := sink.Create()
		if err != nil {
			return nil, err
		}
		w, err := c.newWriter(out)
		if err != nil {
			store.Abort(out)
			return nil, fmt.Errorf("failed to create %s writer: %w", c.algorithm, err)
		}
		if w == nil {
			return out, nil
		}
		return newLayeredWriter(w, w, out), nil
	})
}

func (c *Compression) newWriter(out io.Writer) (io.WriteCloser, error) {
	switch c.algorithm {
	case Zstd:
		opts := []zstd.EOption{}
		if c.level != 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.level)))
		}
		return zstd.NewWriter(out, opts...)
	case LZ4:
		w := lz4.NewWriter(out)
		if c.level != 0 {
			if err := w.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(1 << (8 + c.level)))); err != nil {
				return nil, err
			}
		}
		return w, nil
	case None:
		return nil, nil
	default:
		level := c.level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		return gzip.NewWriterLevel(out, level)
	}
}

// Unapply implements Transformation
func (c *Compression) Unapply(source store.Source) store.Source {
	return store.SourceFunc(func() (io.ReadCloser, error) {
		in, err := source.Open()
		if err != nil {
			return nil, err
		}
		var r io.ReadCloser
		switch c.algorithm {
		case Zstd:
			var d *zstd.Decoder
			if d, err = zstd.NewReader(in, zstd.WithDecoderConcurrency(1)); err == nil {
				r = d.IOReadCloser()
			}
		case LZ4:
			r = io.NopCloser(lz4.NewReader(in))
		case None:
			return in, nil
		default:
			r, err = gzip.NewReader(in)
		}
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("failed to create %s reader: %w", c.algorithm, err)
		}
		return newLayeredReader(r, r, in), nil
	})
}
