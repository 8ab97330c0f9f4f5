package recordfile_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/diskcache/recordfile"
)

func openTemp(t *testing.T) *recordfile.File {
	t.Helper()
	f, err := recordfile.Open(filepath.Join(t.TempDir(), "test.data"))
	require.Nil(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func write(t *testing.T, f *recordfile.File, payload []byte) *recordfile.Descriptor {
	t.Helper()
	d := &recordfile.Descriptor{Length: int32(len(payload))}
	d.Position = f.Reserve(d.Length)
	require.Nil(t, f.Write(d, payload))
	return d
}

func TestWriteRead(t *testing.T) {
	f := openTemp(t)

	d1 := write(t, f, []byte("hello"))
	d2 := write(t, f, []byte("world!!"))

	assert.Equal(t, int64(0), d1.Position)
	assert.Equal(t, int64(recordfile.HeaderSize+5), d2.Position)
	assert.Equal(t, d2.End(), f.Length())

	got, err := f.Read(d1)
	require.Nil(t, err)
	assert.Equal(t, []byte("hello"), got)
	got, err = f.Read(d2)
	require.Nil(t, err)
	assert.Equal(t, []byte("world!!"), got)

	fi, err := os.Stat(f.Name())
	require.Nil(t, err)
	assert.Equal(t, f.Length(), fi.Size())
}

func TestWriteLengthMismatch(t *testing.T) {
	f := openTemp(t)
	err := f.Write(&recordfile.Descriptor{Length: 3}, []byte("toolong"))
	assert.True(t, errors.Is(err, recordfile.ErrLengthMismatch))
}

func TestReadCorrupted(t *testing.T) {
	tests := map[string]struct {
		descriptor recordfile.Descriptor
	}{
		"starts past end of file":     {descriptor: recordfile.Descriptor{Position: 1000, Length: 5}},
		"length differs from on disk": {descriptor: recordfile.Descriptor{Position: 0, Length: 4}},
		"negative position":           {descriptor: recordfile.Descriptor{Position: -1, Length: 5}},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			// --- given ---
			f := openTemp(t)
			write(t, f, []byte("hello"))

			// --- when ---
			_, err := f.Read(&tt.descriptor)

			// --- then ---
			assert.True(t, errors.Is(err, recordfile.ErrCorrupted), "err=%v", err)
		})
	}
}

func TestReadTruncatedRecord(t *testing.T) {
	f := openTemp(t)
	d := write(t, f, []byte("hello"))
	require.Nil(t, f.Truncate(d.End()-2))

	_, err := f.Read(d)
	assert.True(t, errors.Is(err, recordfile.ErrCorrupted))
}

func TestMove(t *testing.T) {
	big := bytes.Repeat([]byte{0xaa}, 40*1024)
	tests := map[string]struct {
		payload []byte
		// newPos is relative to the original position
		delta int64
	}{
		"small record towards head":            {payload: []byte("abcdef"), delta: -100},
		"record larger than a chunk to head":    {payload: big, delta: -3},
		"overlapping move towards tail":         {payload: big, delta: 7},
		"non overlapping small move to the end": {payload: []byte("xyz"), delta: 500},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			// --- given ---
			f := openTemp(t)
			pad := &recordfile.Descriptor{Length: 200}
			pad.Position = f.Reserve(pad.Length)
			require.Nil(t, f.Write(pad, make([]byte, 200)))
			d := write(t, f, tt.payload)
			target := d.Position + tt.delta

			// --- when ---
			err := f.Move(d, target)

			// --- then ---
			require.Nil(t, err)
			assert.Equal(t, target, d.Position)
			got, err := f.Read(d)
			require.Nil(t, err)
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestMoveLengthMismatch(t *testing.T) {
	f := openTemp(t)
	d := write(t, f, []byte("hello"))
	d.Length = 2

	err := f.Move(d, 100)
	assert.True(t, errors.Is(err, recordfile.ErrCorrupted))
	assert.Equal(t, int64(0), d.Position)
}

func TestTruncateAndReset(t *testing.T) {
	f := openTemp(t)
	write(t, f, []byte("hello"))
	write(t, f, []byte("world"))

	require.Nil(t, f.Truncate(9))
	assert.Equal(t, int64(9), f.Length())
	require.Nil(t, f.Reset())
	assert.Equal(t, int64(0), f.Length())
	fi, err := os.Stat(f.Name())
	require.Nil(t, err)
	assert.Equal(t, int64(0), fi.Size())
}

func TestReopenKeepsLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.data")
	f, err := recordfile.Open(path)
	require.Nil(t, err)
	d := &recordfile.Descriptor{Length: 5}
	d.Position = f.Reserve(d.Length)
	require.Nil(t, f.Write(d, []byte("hello")))
	require.Nil(t, f.Close())

	f, err = recordfile.Open(path)
	require.Nil(t, err)
	defer f.Close()
	assert.Equal(t, d.End(), f.Length())
	got, err := f.Read(d)
	require.Nil(t, err)
	assert.Equal(t, []byte("hello"), got)
}
