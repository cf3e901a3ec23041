// The main package for the fbcrawler executable.
package main

import (
	"github.com/JakeFAU/socialgraph-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
