package region

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alpacahq/diskcache/utils/log"
)

// Finder lists the regions stored in a directory.
type Finder struct {
	dirRead func(name string) ([]os.DirEntry, error)
}

func NewFinder(dirRead func(name string) ([]os.DirEntry, error)) *Finder {
	return &Finder{dirRead: dirRead}
}

// Find returns the names of the regions with a data file directly under the
// directory.
func (f *Finder) Find(dir string) ([]string, error) {
	var ret []string
	files, err := f.dirRead(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to read the directory %s: %w", dir, err)
	}
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		filename := file.Name()
		if filepath.Ext(filename) != DataFileSuffix {
			continue
		}

		log.Debug("found a data file: %s", filename)
		ret = append(ret, strings.TrimSuffix(filename, DataFileSuffix))
	}
	return ret, nil
}
