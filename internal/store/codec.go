// Package store persists per-handler task queues through a pluggable
// key-value backend. Persistence is best-effort: a failed read yields an
// empty queue and the scheduler keeps running.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Codec defines how a queue snapshot is serialized into KV bytes.
type Codec interface {
	// Marshal encodes the value into a byte slice.
	Marshal(value any) ([]byte, error)
	// Unmarshal decodes the byte slice into the value pointer.
	Unmarshal(data []byte, value any) error
}

// JSONCodec stores snapshots as plain JSON.
type JSONCodec struct{}

// NewJSONCodec creates a JSON snapshot codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Marshal implements Codec.Marshal using compact JSON.
func (c *JSONCodec) Marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}

	return data, nil
}

// Unmarshal implements Codec.Unmarshal.
func (c *JSONCodec) Unmarshal(data []byte, value any) error {
	err := json.Unmarshal(data, value)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// LZ4Codec stores snapshots as LZ4-framed JSON. Queue snapshots of large
// batches compress well because serialized tasks share most of their shape.
type LZ4Codec struct {
	inner *JSONCodec
}

// NewLZ4Codec creates an LZ4-compressed JSON snapshot codec.
func NewLZ4Codec() *LZ4Codec {
	return &LZ4Codec{inner: NewJSONCodec()}
}

// Marshal implements Codec.Marshal: JSON encode, then LZ4 frame compress.
func (c *LZ4Codec) Marshal(value any) ([]byte, error) {
	raw, err := c.inner.Marshal(value)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	writer := lz4.NewWriter(&buf)

	_, writeErr := writer.Write(raw)
	if writeErr != nil {
		return nil, fmt.Errorf("lz4 compress: %w", writeErr)
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("lz4 flush: %w", closeErr)
	}

	return buf.Bytes(), nil
}

// Unmarshal implements Codec.Unmarshal: LZ4 frame decompress, then JSON decode.
func (c *LZ4Codec) Unmarshal(data []byte, value any) error {
	reader := lz4.NewReader(bytes.NewReader(data))

	raw, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("lz4 decompress: %w", err)
	}

	return c.inner.Unmarshal(raw, value)
}
