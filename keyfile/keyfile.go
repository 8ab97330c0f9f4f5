// Package keyfile persists a snapshot of a region's key index.
//
// The file starts with a 9 byte header, the magic "DSKCKEYS" followed by a
// status byte, and the msgpack encoded snapshot after it.  The status is
// flipped to OPEN while the region is in use and back to CLOSED when the
// region saves its keys on shutdown, so a snapshot left behind by a crash
// can be told apart from a clean one.
package keyfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	msgpack "github.com/vmihailenco/msgpack"

	"github.com/alpacahq/diskcache/utils/log"
)

type StatusEnum int8

const (
	Invalid StatusEnum = iota
	OPEN
	CLOSED
)

func (s StatusEnum) String() string {
	switch s {
	case OPEN:
		return "OPEN"
	case CLOSED:
		return "CLOSED"
	default:
		return "INVALID"
	}
}

const (
	magic      = "DSKCKEYS"
	headerSize = len(magic) + 1
)

// File is the key file of one region.
type File struct {
	path string
}

func New(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string {
	return f.path
}

// Length returns the size of the key file, 0 if it does not exist.
func (f *File) Length() int64 {
	fi, err := os.Stat(f.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// Load decodes the snapshot into v and returns the stored status.  A missing
// or empty file yields Invalid and leaves v untouched.
func (f *File) Load(v interface{}) (StatusEnum, error) {
	fp, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Invalid, nil
		}
		return Invalid, fmt.Errorf("open key file %s: %w", f.path, err)
	}
	defer fp.Close()

	r := bufio.NewReader(fp)
	status, err := readHeader(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Invalid, nil
		}
		return Invalid, err
	}
	if err := msgpack.NewDecoder(r).Decode(v); err != nil {
		return status, fmt.Errorf("decode key file %s: %w", f.path, err)
	}
	return status, nil
}

// Save replaces the key file with a snapshot of v marked with status.  The
// snapshot is written to a temporary file first and moved into place.
func (f *File) Save(v interface{}, status StatusEnum) error {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(byte(status))
	if err := msgpack.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode key snapshot: %w", err)
	}

	tmp := f.path + ".tmp"
	fp, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err = fp.Write(buf.Bytes()); err == nil {
		err = fp.Sync()
	}
	if cerr := fp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return move(tmp, f.path)
}

// MarkOpen flips the status of an existing snapshot to OPEN.  It is a no-op
// when there is no snapshot.
func (f *File) MarkOpen() error {
	fp, err := os.OpenFile(f.path, os.O_RDWR, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open key file %s: %w", f.path, err)
	}
	defer fp.Close()

	if _, err := readHeader(fp); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if _, err := fp.WriteAt([]byte{byte(OPEN)}, int64(len(magic))); err != nil {
		return fmt.Errorf("write status to %s: %w", f.path, err)
	}
	return fp.Sync()
}

// Reset empties the key file.
func (f *File) Reset() error {
	if err := os.Truncate(f.path, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncate key file %s: %w", f.path, err)
	}
	return nil
}

func readHeader(r io.Reader) (StatusEnum, error) {
	var header [headerSize]byte
	n, err := io.ReadFull(r, header[:])
	if n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		return Invalid, io.EOF
	}
	if err != nil {
		return Invalid, HeaderError(fmt.Sprintf("short header (%d bytes)", n))
	}
	if string(header[:len(magic)]) != magic {
		return Invalid, HeaderError(fmt.Sprintf("bad magic %q", header[:len(magic)]))
	}
	status := StatusEnum(header[len(magic)])
	if status != OPEN && status != CLOSED {
		return Invalid, HeaderError(fmt.Sprintf("unknown status %d", status))
	}
	return status, nil
}

func move(oldFP, newFP string) error {
	if err := os.Rename(oldFP, newFP); err != nil {
		return fmt.Errorf("failed to move %s to %s:%w", oldFP, newFP, err)
	}
	log.Debug("moved %s to %s", filepath.Base(oldFP), filepath.Base(newFP))
	return nil
}
