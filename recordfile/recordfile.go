// Package recordfile stores length-prefixed payloads at arbitrary offsets of a
// single data file.  Every record is laid out as
//
//	[int32 big-endian payload length][payload bytes]
//
// and the gaps between records are not tagged on disk.  The caller decides
// where records go and is responsible for locking; File only guarantees that
// a single operation is internally consistent.
package recordfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// HeaderSize is the size of the length prefix in front of every record.
const HeaderSize = 4

// moveChunkSize is the buffer size used to shift a record towards the head
// of the file.
const moveChunkSize = 16 * 1024

var (
	// ErrCorrupted is returned when a descriptor points outside of the file or
	// the length stored on disk disagrees with the descriptor.
	ErrCorrupted = errors.New("record corrupted")
	// ErrLengthMismatch is returned when a payload does not match the
	// descriptor it is written for.
	ErrLengthMismatch = errors.New("payload and descriptor lengths differ")
)

// Descriptor locates a record in the file.  Position is the offset of the
// length prefix and Length the payload size, prefix excluded.  Descriptors
// are shared by pointer: Move updates Position in place so every holder of
// the pointer observes the new location.
type Descriptor struct {
	Position int64 `msgpack:"pos"`
	Length   int32 `msgpack:"len"`
}

// End returns the offset right after the record.
func (d *Descriptor) End() int64 {
	return d.Position + HeaderSize + int64(d.Length)
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("[pos=%d, len=%d]", d.Position, d.Length)
}

type fileLike interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Sync() error
	Name() string
}

// File is a record-oriented view over a data file.
type File struct {
	fp fileLike
	// length is the logical end of file.  It is advanced by Reserve and
	// by writes past the end, and reset by Truncate.
	length int64
}

// Open opens (or creates) the data file at filePath.
func Open(filePath string) (*File, error) {
	fp, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open data file %s: %w", filePath, err)
	}
	return newFile(fp)
}

func newFile(fp fileLike) (*File, error) {
	fi, err := fp.Stat()
	if err != nil {
		_ = fp.Close()
		return nil, fmt.Errorf("stat data file %s: %w", fp.Name(), err)
	}
	return &File{fp: fp, length: fi.Size()}, nil
}

// Name returns the path of the underlying file.
func (f *File) Name() string {
	return f.fp.Name()
}

// Length returns the logical length of the file.
func (f *File) Length() int64 {
	return atomic.LoadInt64(&f.length)
}

// Reserve claims size bytes (plus the record header) at the end of the file
// and returns the position of the reserved region.
func (f *File) Reserve(size int32) int64 {
	return atomic.AddInt64(&f.length, int64(size)+HeaderSize) - int64(size) - HeaderSize
}

// Check verifies that d lies inside the file and that the length prefix
// stored at d.Position matches d.Length.
func (f *File) Check(d *Descriptor) error {
	fileLength := f.Length()
	if d.Position < 0 || d.Length < 0 || d.Position+HeaderSize > fileLength {
		return fmt.Errorf("record at %d starts past end of file (%d): %w",
			d.Position, fileLength, ErrCorrupted)
	}

	var header [HeaderSize]byte
	if _, err := f.fp.ReadAt(header[:], d.Position); err != nil {
		return fmt.Errorf("read header at %d: %w", d.Position, err)
	}
	length := int32(binary.BigEndian.Uint32(header[:]))
	if length != d.Length {
		return fmt.Errorf("record at %d has length %d on disk, expected %d: %w",
			d.Position, length, d.Length, ErrCorrupted)
	}
	if d.End() > fileLength {
		return fmt.Errorf("record at %d (len %d) exceeds file length %d: %w",
			d.Position, length, fileLength, ErrCorrupted)
	}
	return nil
}

// Read returns the payload stored at descriptor d.
func (f *File) Read(d *Descriptor) ([]byte, error) {
	if err := f.Check(d); err != nil {
		return nil, err
	}

	payload := make([]byte, d.Length)
	if _, err := f.fp.ReadAt(payload, d.Position+HeaderSize); err != nil {
		return nil, fmt.Errorf("read payload at %d: %w", d.Position, err)
	}
	return payload, nil
}

// Write stores payload at descriptor d.  The payload length has to match d.Length.
func (f *File) Write(d *Descriptor, payload []byte) error {
	if int32(len(payload)) != d.Length {
		return fmt.Errorf("write %d bytes into record %d(len %d): %w",
			len(payload), d.Position, d.Length, ErrLengthMismatch)
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	if _, err := f.fp.WriteAt(buf, d.Position); err != nil {
		return fmt.Errorf("write record at %d: %w", d.Position, err)
	}
	f.extendTo(d.Position + int64(len(buf)))
	return nil
}

// Move relocates the record at descriptor d to newPos and updates d.Position in place.
func (f *File) Move(d *Descriptor, newPos int64) error {
	var header [HeaderSize]byte
	if _, err := f.fp.ReadAt(header[:], d.Position); err != nil {
		return fmt.Errorf("read header at %d: %w", d.Position, err)
	}
	length := int32(binary.BigEndian.Uint32(header[:]))
	if length != d.Length {
		return fmt.Errorf("record at %d has length %d on disk, expected %d: %w",
			d.Position, length, d.Length, ErrCorrupted)
	}

	total := int64(HeaderSize) + int64(length)
	if newPos > d.Position && newPos < d.Position+total {
		// overlapping move towards the tail, copy the whole record at once
		buf := make([]byte, total)
		if _, err := f.fp.ReadAt(buf, d.Position); err != nil {
			return fmt.Errorf("read record at %d: %w", d.Position, err)
		}
		if _, err := f.fp.WriteAt(buf, newPos); err != nil {
			return fmt.Errorf("write record at %d: %w", newPos, err)
		}
	} else {
		buf := make([]byte, moveChunkSize)
		readPos, writePos, remaining := d.Position, newPos, total
		for remaining > 0 {
			chunk := buf
			if remaining < int64(len(buf)) {
				chunk = buf[:remaining]
			}
			if _, err := f.fp.ReadAt(chunk, readPos); err != nil {
				return fmt.Errorf("read chunk at %d: %w", readPos, err)
			}
			if _, err := f.fp.WriteAt(chunk, writePos); err != nil {
				return fmt.Errorf("write chunk at %d: %w", writePos, err)
			}
			readPos += int64(len(chunk))
			writePos += int64(len(chunk))
			remaining -= int64(len(chunk))
		}
	}
	f.extendTo(newPos + total)
	d.Position = newPos
	return nil
}

// Truncate shrinks (or grows) the file to size bytes.
func (f *File) Truncate(size int64) error {
	if err := f.fp.Truncate(size); err != nil {
		return fmt.Errorf("truncate %s to %d: %w", f.fp.Name(), size, err)
	}
	atomic.StoreInt64(&f.length, size)
	return nil
}

// Reset empties the file.
func (f *File) Reset() error {
	return f.Truncate(0)
}

func (f *File) Sync() error {
	return f.fp.Sync()
}

func (f *File) Close() error {
	return f.fp.Close()
}

func (f *File) extendTo(end int64) {
	for {
		cur := atomic.LoadInt64(&f.length)
		if end <= cur || atomic.CompareAndSwapInt64(&f.length, cur, end) {
			return
		}
	}
}
