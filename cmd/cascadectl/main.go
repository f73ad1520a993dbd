// This file is part of ShadowCascade project, available at https://github.com/qrdl/shadowcascade
// Copyright (c) 2026 Ilya Caramishev. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at https://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command cascadectl inspects the cascade engine offline: the patch table,
// the generated caves, a full activation against a synthetic host and the
// quality controller.
package main

import (
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/apex/log/handlers/logfmt"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "cascadectl",
		Short:         "Inspect and simulate the shadow cascade engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")

	logHandler := func(cmd *cobra.Command) log.Handler {
		if verbose {
			return logfmt.New(cmd.ErrOrStderr())
		}
		return discard.New()
	}

	root.AddCommand(
		newSitesCmd(),
		newCavesCmd(),
		newSimulateCmd(logHandler),
		newTuneCmd(logHandler),
	)
	return root
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
