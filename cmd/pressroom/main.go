// Command pressroom is the operator CLI: job and queue inspection, dead
// letter management, and config scaffolding, all against the daemon's
// database.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pressroom: %v\n", err)
		os.Exit(1)
	}
}
