// Command iqctl administers the index queue from the shell: it initializes
// site queues, inspects statistics and errors, and triggers manual indexing
// runs against the same store the server uses.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand(newCommandContext())
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
