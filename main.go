// bst bootstraps a command into a fresh set of Linux namespaces.
package main

import (
	"fmt"
	"os"

	"bst-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bst: %v\n", err)
		os.Exit(1)
	}
}
