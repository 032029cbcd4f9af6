// Package main provides the entry point for the embeddenator CLI.
package main

import (
	"os"

	"github.com/embeddenator/embeddenator/cmd/embeddenator/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
