package keyfile

import (
	"fmt"

	"github.com/alpacahq/diskcache/utils/io"
	"github.com/alpacahq/diskcache/utils/log"
)

// HeaderError is returned when the key file does not start with a valid
// header.
type HeaderError string

func (msg HeaderError) Error() string {
	return errReport("%s: Invalid key file header", string(msg))
}

func errReport(base string, msg string) string {
	base = io.GetCallerFileContext(2) + ":" + base
	log.Error(base, msg)
	return fmt.Sprintf(base, msg)
}
