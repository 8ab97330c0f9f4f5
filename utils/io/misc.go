package io

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// GetCallerFileContext returns "file:line" of the caller, level frames up.
func GetCallerFileContext(level int) (fileContext string) {
	_, file, line, ok := runtime.Caller(1 + level)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
