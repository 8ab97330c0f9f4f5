package main

import (
	"os"

	"github.com/alpacahq/diskcache/cmd"
	"github.com/alpacahq/diskcache/utils/log"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Error("%v", err)
		log.Sync()
		os.Exit(1)
	}
}
