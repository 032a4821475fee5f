// The main package for the tunecrawler executable.
package main

import (
	"github.com/tunedex/tunecrawler/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
