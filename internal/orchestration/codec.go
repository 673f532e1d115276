package orchestration

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"gopkg.in/yaml.v3"
)

// Compression selects how a configuration is compressed before it is stored.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionSnappy Compression = "snappy"
	CompressionLz4    Compression = "lz4"
	CompressionZstd   Compression = "zstd"
)

// Compressed payloads start with envelopeMagic followed by a codec byte.
// A YAML document never starts with a NUL byte, so plain payloads need no
// envelope and stay readable with any client.
const envelopeMagic = 0x00

const (
	codecGzip   byte = 1
	codecSnappy byte = 2
	codecLz4    byte = 3
	codecZstd   byte = 4
)

var errUnsupportedCompression = errors.New("unsupported compression")

// ParseCompression converts a config string. Empty means none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionSnappy, CompressionLz4, CompressionZstd:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedCompression, s)
	}
}

// Encode serializes cfg as YAML, compressed with c.
func Encode(cfg *OrchestrationConfig, c Compression) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}

	var codec byte
	var payload []byte
	switch c {
	case "", CompressionNone:
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		codec, payload = codecGzip, buf.Bytes()
	case CompressionSnappy:
		codec, payload = codecSnappy, snappy.Encode(nil, data)
	case CompressionLz4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		codec, payload = codecLz4, buf.Bytes()
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		payload = enc.EncodeAll(data, nil)
		_ = enc.Close()
		codec = codecZstd
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedCompression, c)
	}

	out := make([]byte, 0, len(payload)+2)
	out = append(out, envelopeMagic, codec)
	return append(out, payload...), nil
}

// Decode parses a stored configuration, compressed or not. It does not
// validate the result.
func Decode(data []byte) (*OrchestrationConfig, error) {
	raw, err := unwrap(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	var cfg OrchestrationConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

func unwrap(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	if data[0] != envelopeMagic {
		return data, nil
	}
	if len(data) < 2 {
		return nil, errors.New("truncated envelope")
	}

	payload := data[2:]
	switch data[1] {
	case codecGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case codecSnappy:
		return snappy.Decode(nil, payload)
	case codecLz4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
	case codecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("%w: codec %d", errUnsupportedCompression, data[1])
	}
}
