package main

import (
	"os"

	"github.com/easyshare/easyshare/cmd/esd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
