package region

import (
	"fmt"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"

	"github.com/alpacahq/diskcache/keyfile"
	"github.com/alpacahq/diskcache/recordfile"
)

// Report describes the files of a region that is not open.
type Report struct {
	Region       string
	Status       keyfile.StatusEnum
	Keys         int
	DataFileSize int64
	LiveBytes    int64
	// Problem is the first inconsistency found, nil if there is none.
	Problem error
}

// FreeBytes returns the bytes of the data file not used by any record.
func (r *Report) FreeBytes() int64 {
	return r.DataFileSize - r.LiveBytes
}

func (r *Report) String() string {
	state := "ok"
	if r.Problem != nil {
		state = r.Problem.Error()
	}
	return fmt.Sprintf("%s: %d keys, key file %s, data %s, free %s, %s",
		r.Region, r.Keys, r.Status, bytefmt.ByteSize(uint64(r.DataFileSize)),
		bytefmt.ByteSize(uint64(r.FreeBytes())), state)
}

// Inspect checks the key file of region name in dir against its data file
// without modifying either.  Overlaps are looked for when deep is set or the
// key file was not closed cleanly.
func Inspect(dir, name string, deep bool) (*Report, error) {
	base := filepath.Join(dir, name)
	if _, err := os.Stat(base + DataFileSuffix); err != nil {
		return nil, fmt.Errorf("region %s: %w", name, err)
	}

	var entries []keyEntry
	status, err := keyfile.New(base + KeyFileSuffix).Load(&entries)
	if err != nil {
		return nil, err
	}
	dataFile, err := recordfile.Open(base + DataFileSuffix)
	if err != nil {
		return nil, err
	}
	defer dataFile.Close()

	report := &Report{Region: name, Status: status, Keys: len(entries), DataFileSize: dataFile.Length()}
	descriptors := make([]*recordfile.Descriptor, 0, len(entries))
	for _, e := range entries {
		d := &recordfile.Descriptor{Position: e.Position, Length: e.Length}
		report.LiveBytes += int64(e.Length) + recordfile.HeaderSize
		if report.Problem == nil {
			if err := dataFile.Check(d); err != nil {
				report.Problem = fmt.Errorf("key %v: %w", e.Key, err)
			}
		}
		descriptors = append(descriptors, d)
	}
	if report.Problem == nil && (deep || status != keyfile.CLOSED) {
		report.Problem = checkForOverlaps(sortByPosition(descriptors))
	}
	return report, nil
}
