// Ene - an IRC client core with DCC chat and file transfer.
package main

import (
	"context"
	"fmt"
	"os"

	"ene/cmd"
)

func main() {
	// Signals are handled inside cmd so SIGINT can send QUIT before the
	// run context is cancelled.
	if err := cmd.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ene: %v\n", err)
		os.Exit(1)
	}
}
