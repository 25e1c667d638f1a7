package main

import (
	"os"

	"github.com/Rupam798/VideoConferencing/cmd"
	"github.com/Rupam798/VideoConferencing/internal/logging"
)

func main() {
	logging.Init()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
