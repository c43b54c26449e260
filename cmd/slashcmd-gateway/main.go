package main

import (
	"fmt"
	"os"

	"github.com/lgandecki/slashcmd/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "slashcmd-gateway: %v\n", err)
		os.Exit(1)
	}
}
