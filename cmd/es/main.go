package main

import (
	"os"

	"github.com/easyshare/easyshare/cmd/es/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
