package main

import (
	"fmt"
	"os"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/cmd"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
)

func main() {
	settings := &conf.Settings{}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
