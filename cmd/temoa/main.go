// Command temoa is the semantic note-search service.
package main

import (
	"os"

	"github.com/pborenstein/temoa/cmd/temoa/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
