package main

import (
	"os"

	"github.com/bnema/warmpool/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
