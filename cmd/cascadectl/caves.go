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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qrdl/shadowcascade"
)

func newCavesCmd() *cobra.Command {
	var (
		at   uint64
		base uint64
	)
	cmd := &cobra.Command{
		Use:   "caves",
		Short: "Assemble the safety caves and print their disassembly",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			img := shadowcascade.NewImage(uintptr(base))
			cave := uintptr(at)
			if cave == 0 {
				cave = img.Base() - 0x10000000
			}
			for _, spec := range shadowcascade.SafetyCaves(img) {
				code, err := spec.Assemble(cave)
				if err != nil {
					return fmt.Errorf("%s: %w", spec.Name, err)
				}
				fmt.Fprintf(out(cmd), "%s: site %#x, cave %#x, %d/%d bytes\n", spec.Name, spec.Site, cave, len(code), spec.Size)
				for _, line := range shadowcascade.Disassemble(code, cave) {
					fmt.Fprintf(out(cmd), "  %s\n", line)
				}
				cave += uintptr(spec.Size)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&at, "at", 0, "address of the first cave (default: 256 MiB below the image)")
	cmd.Flags().Uint64Var(&base, "base", shadowcascade.DefaultImageBase, "host image base")
	return cmd
}
