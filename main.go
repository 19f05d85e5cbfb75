package main

import (
	"os"

	"github.com/svclift/svclift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
