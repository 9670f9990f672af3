/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// sdjwt-kit generates static SD-JWT test case data from YAML specifications.
// Given a settings file with deterministic demo keys and one directory per
// test case, it runs the full issue, present and verify cycle and writes the
// intermediate artifacts next to each specification. The artifacts are
// suitable for cross-checking other SD-JWT implementations.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	rootCmd := &cobra.Command{
		Use:          "sdjwt-kit",
		Short:        "SD-JWT test case toolkit",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newGenerateCmd(logger))

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
