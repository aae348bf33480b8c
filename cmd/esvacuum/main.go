// Package main provides the entry point for the esvacuum CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/esvacuum/cmd/esvacuum/cmd"
	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, vacerrors.FormatForCLI(err))
		os.Exit(1)
	}
}
