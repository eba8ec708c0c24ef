package main

import (
	"os"

	"github.com/dyluth/hitmap/cmd/hitmap/commands"
	"github.com/dyluth/hitmap/internal/projection/cvproject"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	commands.SetProjector(cvproject.New())

	// Errors are printed by the commands package; any of them means exit code 2
	status, err := commands.Execute()
	if err != nil {
		os.Exit(commands.ErrorExitCode)
	}
	os.Exit(status)
}
