package main

import (
	"github.com/BioHazard786/huddle/cmd"
	"github.com/BioHazard786/huddle/internal/logging"
)

func main() {
	// LOG_LEVEL until a command loads its config
	logging.Init("")
	cmd.Execute()
}
