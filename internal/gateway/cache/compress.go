package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/mediagate/gateway/pkg/types"
)

// Cache entries carry a one-byte algorithm marker so readers never depend
// on the writer's configuration.
const (
	markerNone   byte = 0x00
	markerSnappy byte = 0x01
	markerLZ4    byte = 0x02
)

// compress encodes content with the configured algorithm behind a marker
// byte. Small payloads are stored uncompressed regardless.
func compress(content []byte, algorithm string) ([]byte, error) {
	if len(content) < types.CompressionMinSize || algorithm == types.CompressionNone || algorithm == "" {
		return prepend(markerNone, content), nil
	}

	switch algorithm {
	case types.CompressionSnappy:
		return prepend(markerSnappy, snappy.Encode(nil, content)), nil

	case types.CompressionLZ4:
		var buf bytes.Buffer
		buf.WriteByte(markerLZ4)
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(content); err != nil {
			w.Close()
			return nil, fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return prepend(markerNone, content), nil
	}
}

// decompress decodes a marker-prefixed cache entry.
func decompress(entry []byte) ([]byte, error) {
	if len(entry) == 0 {
		return nil, fmt.Errorf("empty cache entry")
	}

	body := entry[1:]
	switch entry[0] {
	case markerNone:
		return body, nil

	case markerSnappy:
		decompressed, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("snappy decompression failed: %w", err)
		}
		return decompressed, nil

	case markerLZ4:
		decompressed, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression failed: %w", err)
		}
		return decompressed, nil

	default:
		return nil, fmt.Errorf("unknown compression marker 0x%02x", entry[0])
	}
}

func prepend(marker byte, content []byte) []byte {
	out := make([]byte, 0, len(content)+1)
	out = append(out, marker)
	return append(out, content...)
}
