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

// Package quality trades draw distances for frame rate. A Controller is fed
// once per frame; every few frames it compares the average frame time with
// the target and moves each enabled setting proportionally to the error,
// within configured bounds.
package quality

import (
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/qrdl/shadowcascade/config"
)

const (
	// statusEvery is the number of adjustment cycles between status lines.
	statusEvery = 90

	msPerSecond = 1000
)

// Settings are the adjusted game settings. Shadow is required, any other
// nil entry is left alone.
type Settings struct {
	Shadow Setting

	LodObjects Setting
	LodItems   Setting
	LodActors  Setting
	Grass      Setting

	BlockLevel0 Setting
	BlockLevel1 Setting
	BlockLevel2 Setting

	GodRaysQuality IntSetting
	GodRaysGrid    IntSetting
	GodRaysScale   Setting
	GodRaysCascade IntSetting
}

// Controller adjusts Settings towards the configured frame rate. It is not
// safe for concurrent use; call Update from the frame loop only.
type Controller struct {
	cfg *config.Config
	s   Settings
	log log.Interface

	last       time.Time
	frames     float64
	blockIndex int
	cycles     int
}

// NewController starts measuring frame time at now.
func NewController(cfg *config.Config, s Settings, logger log.Interface, now time.Time) (*Controller, error) {
	if s.Shadow == nil {
		return nil, errors.New("shadow distance setting is required")
	}
	if cfg.Main.FpsTarget <= 0 {
		return nil, fmt.Errorf("invalid frame rate target %v", cfg.Main.FpsTarget)
	}
	if logger == nil {
		logger = log.Log
	}
	c := &Controller{cfg: cfg, s: s, log: logger, last: now}

	v, err := s.Shadow.Float()
	if err != nil {
		return nil, fmt.Errorf("read shadow distance: %w", err)
	}
	logger.WithFields(log.Fields{
		"shadow":   v,
		"target":   cfg.Main.FpsTarget,
		"targetMs": c.targetMs(),
	}).Info("quality controller initialized")
	return c, nil
}

// BlockIndex returns the current block level tier, 0 being the farthest.
func (c *Controller) BlockIndex() int {
	return c.blockIndex
}

func (c *Controller) targetMs() float64 {
	return msPerSecond / c.cfg.Main.FpsTarget
}

// Update is called once per frame.
func (c *Controller) Update(now time.Time) error {
	cfg := c.cfg
	c.frames++
	if c.frames < cfg.Main.FpsDelay {
		return nil
	}
	c.frames = 0

	delay := max(cfg.Main.FpsDelay, 1)
	avgMs := float64(now.Sub(c.last).Microseconds()) / msPerSecond / delay
	c.last = now
	target := c.targetMs()

	var dyn float64
	if cfg.Main.AutoAdjust {
		dyn = avgMs - target
		if dyn >= 0 && dyn <= cfg.Main.MsTolerance {
			dyn = 0
		}
	}

	c.cycles++
	if c.cycles >= statusEvery {
		c.cycles = 0
		c.status(avgMs, target, dyn)
	}

	auto := cfg.Main.AutoAdjust
	var errs []error

	shadow := cfg.Shadow
	if auto && shadow.Enable {
		errs = append(errs, adjust(c.s.Shadow, dyn*shadow.Factor, shadow.Min, shadow.Max))
	} else {
		errs = append(errs, c.s.Shadow.SetFloat(float32(shadow.Max)))
	}

	lod := cfg.Lod
	lodSettings := []struct {
		s        Setting
		min, max float64
	}{
		{c.s.LodObjects, lod.ObjectsMin, lod.ObjectsMax},
		{c.s.LodItems, lod.ItemsMin, lod.ItemsMax},
		{c.s.LodActors, lod.ActorsMin, lod.ActorsMax},
	}
	for _, l := range lodSettings {
		if l.s == nil {
			continue
		}
		if auto && lod.Enable {
			errs = append(errs, adjust(l.s, dyn*lod.Factor, l.min, l.max))
		} else {
			errs = append(errs, l.s.SetFloat(float32(l.max)))
		}
	}

	if grass := cfg.Grass; c.s.Grass != nil {
		if auto && grass.Enable {
			errs = append(errs, adjust(c.s.Grass, dyn*grass.Factor, grass.Min, grass.Max))
		} else {
			errs = append(errs, c.s.Grass.SetFloat(float32(grass.Max)))
		}
	}

	if auto && cfg.Terrain.Enable {
		errs = append(errs, c.updateBlockLevel(dyn))
	}

	return errors.Join(errs...)
}

// updateBlockLevel drops to a nearer tier while the shadow distance is
// already at its minimum and frames are slow, and climbs back while it is
// at its maximum and frames are on time.
func (c *Controller) updateBlockLevel(dyn float64) error {
	if c.s.BlockLevel0 == nil || c.s.BlockLevel1 == nil || c.s.BlockLevel2 == nil {
		return nil
	}
	v, err := c.s.Shadow.Float()
	if err != nil {
		return err
	}
	shadow := float64(v)
	switch {
	case shadow <= c.cfg.Shadow.Min && dyn > 0:
		c.blockIndex = min(c.blockIndex+1, config.BlockLevels-1)
	case shadow >= c.cfg.Shadow.Max && dyn <= 0:
		c.blockIndex = max(c.blockIndex-1, 0)
	}

	bl := c.cfg.BlockLevels()[c.blockIndex]
	return errors.Join(
		c.s.BlockLevel2.SetFloat(float32(bl.Level2)),
		c.s.BlockLevel1.SetFloat(float32(bl.Level1)),
		c.s.BlockLevel0.SetFloat(float32(bl.Level0)),
	)
}

// ApplyGodRays writes the configured volumetric lighting settings once. It
// does nothing unless god ray control is enabled.
func (c *Controller) ApplyGodRays() error {
	gr := c.cfg.GodRays
	if !gr.Enable {
		return nil
	}
	var errs []error
	if c.s.GodRaysQuality != nil {
		errs = append(errs, c.s.GodRaysQuality.SetInt(int32(gr.Quality)))
	}
	if c.s.GodRaysGrid != nil {
		errs = append(errs, c.s.GodRaysGrid.SetInt(int32(gr.Grid)))
	}
	if c.s.GodRaysScale != nil {
		errs = append(errs, c.s.GodRaysScale.SetFloat(float32(gr.Scale)))
	}
	if c.s.GodRaysCascade != nil {
		errs = append(errs, c.s.GodRaysCascade.SetInt(int32(gr.Cascade)))
	}
	c.log.WithFields(log.Fields{
		"quality": gr.Quality,
		"grid":    gr.Grid,
		"scale":   gr.Scale,
		"cascade": gr.Cascade,
	}).Info("god rays applied")
	return errors.Join(errs...)
}

func (c *Controller) status(avgMs, target, dyn float64) {
	fields := log.Fields{
		"auto":     c.cfg.Main.AutoAdjust,
		"avgMs":    fmt.Sprintf("%.2f", avgMs),
		"targetMs": fmt.Sprintf("%.2f", target),
		"dyn":      fmt.Sprintf("%.2f", dyn),
		"block":    c.blockIndex,
	}
	if v, err := c.s.Shadow.Float(); err == nil {
		fields["shadow"] = v
	}
	if c.s.LodObjects != nil {
		if v, err := c.s.LodObjects.Float(); err == nil {
			fields["lodObjects"] = v
		}
	}
	if c.s.Grass != nil {
		if v, err := c.s.Grass.Float(); err == nil {
			fields["grass"] = v
		}
	}
	c.log.WithFields(fields).Info("quality status")
}

// adjust moves s down by delta and clamps the result to [lo, hi].
func adjust(s Setting, delta, lo, hi float64) error {
	cur, err := s.Float()
	if err != nil {
		return err
	}
	return s.SetFloat(float32(max(lo, min(float64(cur)-delta, hi))))
}
