// Command minato is the CLI front-end for the cache coordinator: cache,
// list, remove, update, download, and upload, the way cmd/go-apt-cacher
// and cmd/go-apt-mirror front their respective packages.
package main

import (
	"os"

	"github.com/cybozu-go/log"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error(err.Error(), nil)
		os.Exit(1)
	}
}
