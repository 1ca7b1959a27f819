// Command repo-harvester harvests GitHub repository metadata into Postgres.
package main

import (
	"github.com/JakeFAU/repo-harvester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
