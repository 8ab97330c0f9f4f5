// Package codec turns cache elements into record payloads and back.
package codec

import (
	"bytes"
	"fmt"
	"io/ioutil"

	"github.com/klauspost/compress/gzip"
	msgpack "github.com/vmihailenco/msgpack"
)

// Serializer encodes values into bytes and decodes them into a pointer.
type Serializer interface {
	Serialize(v interface{}) ([]byte, error)
	Deserialize(data []byte, v interface{}) error
}

// MsgPack is the default Serializer.
type MsgPack struct{}

func (MsgPack) Serialize(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode %T: %w", v, err)
	}
	return b, nil
}

func (MsgPack) Deserialize(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgpack decode into %T: %w", v, err)
	}
	return nil
}

// Compressing gzips the output of another Serializer.
type Compressing struct {
	Inner Serializer
	Level int
}

// NewCompressing wraps inner with default compression.
func NewCompressing(inner Serializer) *Compressing {
	return &Compressing{Inner: inner, Level: gzip.DefaultCompression}
}

func (c *Compressing) Serialize(v interface{}) ([]byte, error) {
	raw, err := c.Inner.Serialize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.Level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err = w.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err = w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Compressing) Deserialize(data []byte, v interface{}) error {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	raw, err := ioutil.ReadAll(r)
	if err != nil {
		return fmt.Errorf("gzip read: %w", err)
	}
	return c.Inner.Deserialize(raw, v)
}
