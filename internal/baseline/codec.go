// Package baseline provides durable, atomic, codec-based persistence of
// the last known cell state per monitored file.
package baseline

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// File extensions for supported codecs. The extension identifies the
// codec that produced an artifact.
const (
	gzipExtension = ".baseline.json.gz"
	lz4Extension  = ".baseline.json.lz4"
)

// Codec defines how a baseline is serialized and compressed on disk.
type Codec interface {
	// Encode writes the state to the writer.
	Encode(w io.Writer, state any) error
	// Decode reads the state from the reader.
	Decode(r io.Reader, state any) error
	// Extension returns the artifact suffix for this codec.
	Extension() string
	// Name returns the codec identifier used in configuration.
	Name() string
}

// GzipJSONCodec is the default codec: JSON compressed with gzip.
type GzipJSONCodec struct{}

// NewGzipJSONCodec creates the default gzip JSON codec.
func NewGzipJSONCodec() *GzipJSONCodec {
	return &GzipJSONCodec{}
}

// Encode implements Codec.Encode with gzip-compressed JSON.
func (c *GzipJSONCodec) Encode(w io.Writer, state any) error {
	zw := gzip.NewWriter(w)

	err := json.NewEncoder(zw).Encode(state)
	if err != nil {
		zw.Close()

		return fmt.Errorf("gzip json encode: %w", err)
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode for gzip-compressed JSON.
func (c *GzipJSONCodec) Decode(r io.Reader, state any) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzip open: %w", err)
	}
	defer zr.Close()

	err = json.NewDecoder(zr).Decode(state)
	if err != nil {
		return fmt.Errorf("gzip json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for gzip artifacts.
func (c *GzipJSONCodec) Extension() string {
	return gzipExtension
}

// Name implements Codec.Name.
func (c *GzipJSONCodec) Name() string {
	return "gzip"
}

// LZ4JSONCodec compresses JSON with LZ4. Used for archiving inactive
// baselines where decode speed matters more than ratio.
type LZ4JSONCodec struct{}

// NewLZ4JSONCodec creates the LZ4 JSON codec.
func NewLZ4JSONCodec() *LZ4JSONCodec {
	return &LZ4JSONCodec{}
}

// Encode implements Codec.Encode with LZ4-compressed JSON.
func (c *LZ4JSONCodec) Encode(w io.Writer, state any) error {
	zw := lz4.NewWriter(w)

	err := json.NewEncoder(zw).Encode(state)
	if err != nil {
		zw.Close()

		return fmt.Errorf("lz4 json encode: %w", err)
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("lz4 close: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode for LZ4-compressed JSON.
func (c *LZ4JSONCodec) Decode(r io.Reader, state any) error {
	zr := lz4.NewReader(r)

	err := json.NewDecoder(zr).Decode(state)
	if err != nil {
		return fmt.Errorf("lz4 json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for LZ4 artifacts.
func (c *LZ4JSONCodec) Extension() string {
	return lz4Extension
}

// Name implements Codec.Name.
func (c *LZ4JSONCodec) Name() string {
	return "lz4"
}

// CodecByName resolves a configured codec identifier.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "gzip", "":
		return NewGzipJSONCodec(), nil
	case "lz4":
		return NewLZ4JSONCodec(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// AllCodecs returns every known codec with the given codec first. Load
// probes artifacts in this order.
func AllCodecs(preferred Codec) []Codec {
	codecs := []Codec{preferred}

	for _, c := range []Codec{NewGzipJSONCodec(), NewLZ4JSONCodec()} {
		if c.Extension() != preferred.Extension() {
			codecs = append(codecs, c)
		}
	}

	return codecs
}
