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
	"time"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/qrdl/shadowcascade"
	"github.com/qrdl/shadowcascade/config"
	"github.com/qrdl/shadowcascade/quality"
)

func newTuneCmd(logHandler func(*cobra.Command) log.Handler) *cobra.Command {
	var (
		configPath   string
		overridePath string
		frame        time.Duration
		cycles       int
		start        float32
	)
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Feed the quality controller a constant frame time",
		Long: `Loads the quality configuration, drives the controller with frames of a
fixed duration and prints the renderer shadow distance after every
adjustment cycle. A missing configuration file is created with defaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, overridePath)
			if err != nil {
				return err
			}
			host := shadowcascade.NewSimHost(shadowcascade.DefaultImageBase)
			shadow := quality.RendererShadowDistance(host.Mem, host.Image)
			if err := shadow.SetFloat(start); err != nil {
				return err
			}
			settings := quality.Settings{
				Shadow:      shadow,
				LodObjects:  quality.NewValue(float32(cfg.Lod.ObjectsMax)),
				LodItems:    quality.NewValue(float32(cfg.Lod.ItemsMax)),
				LodActors:   quality.NewValue(float32(cfg.Lod.ActorsMax)),
				Grass:       quality.NewValue(float32(cfg.Grass.Max)),
				BlockLevel0: quality.NewValue(0),
				BlockLevel1: quality.NewValue(0),
				BlockLevel2: quality.NewValue(0),
			}

			now := time.Now()
			logger := &log.Logger{Handler: logHandler(cmd), Level: log.DebugLevel}
			ctl, err := quality.NewController(cfg, settings, logger, now)
			if err != nil {
				return err
			}
			frames := max(int(cfg.Main.FpsDelay), 1)
			for c := 1; c <= cycles; c++ {
				for i := 0; i < frames; i++ {
					now = now.Add(frame)
					if err := ctl.Update(now); err != nil {
						return err
					}
				}
				v, err := shadow.Float()
				if err != nil {
					return err
				}
				fmt.Fprintf(out(cmd), "cycle %d: shadow %.0f, block level %d\n", c, v, ctl.BlockIndex())
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "ShadowBoostF4VR.ini", "main configuration file")
	f.StringVar(&overridePath, "override", "", "settings layered on top of the main file")
	f.DurationVar(&frame, "frame", 11*time.Millisecond, "duration of every frame")
	f.IntVar(&cycles, "cycles", 10, "adjustment cycles to run")
	f.Float32Var(&start, "start", 3000, "initial renderer shadow distance")
	return cmd
}
