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
	"text/tabwriter"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/qrdl/shadowcascade"
)

type simulation struct {
	encrypted bool
	capacity  int
	count     int
	flat      int
	passes    int
	refresh   bool
	release   bool
}

func newSimulateCmd(logHandler func(*cobra.Command) log.Handler) *cobra.Command {
	var sim simulation
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the engine against a synthetic host image",
		Long: `Builds a host image in simulated memory with the stock instruction bytes
and data layout, runs the requested number of activation passes and prints
the resulting stage flags and installed caves.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sim.passes < 1 {
				return fmt.Errorf("passes must be positive, got %d", sim.passes)
			}
			if sim.flat < 0 || sim.flat > shadowcascade.CascadeCount {
				return fmt.Errorf("flat must be within [0, %d], got %d", shadowcascade.CascadeCount, sim.flat)
			}
			if sim.count > sim.capacity {
				return fmt.Errorf("count %d exceeds capacity %d", sim.count, sim.capacity)
			}
			return sim.run(cmd, logHandler(cmd))
		},
	}
	f := cmd.Flags()
	f.BoolVar(&sim.encrypted, "encrypted", false, "leave the code section encrypted")
	f.IntVar(&sim.capacity, "capacity", 2, "cascade array capacity (0: array not allocated)")
	f.IntVar(&sim.count, "count", 2, "cascade entries in use")
	f.IntVar(&sim.flat, "flat", 4, "flat cascade entries with shadow maps")
	f.IntVar(&sim.passes, "passes", 2, "activation passes")
	f.BoolVar(&sim.refresh, "refresh", false, "re-copy template entries once the host fills them")
	f.BoolVar(&sim.release, "release", false, "release caves at shutdown")
	return cmd
}

func (s simulation) run(cmd *cobra.Command, handler log.Handler) error {
	host := shadowcascade.NewSimHost(shadowcascade.DefaultImageBase)
	if !s.encrypted {
		host.Decrypt()
	}
	if s.capacity > 0 {
		host.AddCascadeArray(s.capacity, s.count)
	}
	host.AddSceneNode(min(s.flat, 2))

	e := shadowcascade.New(shadowcascade.Options{
		Memory:         host.Mem,
		Image:          host.Image,
		LogHandler:     handler,
		RefreshEntries: s.refresh,
		ReleaseCaves:   s.release,
	})
	for i := 0; i < s.passes; i++ {
		// the host finishes building the flat array after the first pass
		if i == 1 && s.flat > 2 {
			host.SetFlatCount(s.flat)
			host.PopulateShadowMaps(s.flat)
		}
		e.Advance()
	}

	snap := e.Snapshot()
	w := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tDONE")
	for _, st := range shadowcascade.Stages() {
		fmt.Fprintf(w, "%s\t%v\n", st, snap.Stages[st])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, c := range snap.Caves {
		fmt.Fprintf(out(cmd), "cave %s: site %#x -> %#x (%d bytes)\n", c.Name, c.Site, c.Addr, len(c.Code))
	}
	fmt.Fprintf(out(cmd), "active: %v, writes: %d\n", e.Active(), host.Mem.Writes())
	e.Shutdown()
	return nil
}
