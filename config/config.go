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

// Package config holds the settings of the frame-rate quality controller,
// stored as INI with one section per adjusted setting group.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/ini.v1"
)

// BlockLevels is the number of terrain block-level tiers.
const BlockLevels = 4

// Main holds the frame-time controller settings.
type Main struct {
	AutoAdjust  bool    `ini:"bAutoAdjust"`
	FpsTarget   float64 `ini:"fFpsTarget"`
	FpsDelay    float64 `ini:"fFpsDelay"` // frames between adjustments
	MsTolerance float64 `ini:"fMsTolerance"`
}

// Shadow bounds the dynamic shadow distance.
type Shadow struct {
	Enable bool    `ini:"bEnable"`
	Factor float64 `ini:"fDynamicValueFactor"`
	Min    float64 `ini:"fMinDistance"`
	Max    float64 `ini:"fMaxDistance"`
}

// Lod bounds the dynamic LOD fade-out multipliers.
type Lod struct {
	Enable     bool    `ini:"bEnable"`
	Factor     float64 `ini:"fDynamicValueFactor"`
	ObjectsMin float64 `ini:"fLODFadeOutMultObjectsMin"`
	ObjectsMax float64 `ini:"fLODFadeOutMultObjectsMax"`
	ItemsMin   float64 `ini:"fLODFadeOutMultItemsMin"`
	ItemsMax   float64 `ini:"fLODFadeOutMultItemsMax"`
	ActorsMin  float64 `ini:"fLODFadeOutMultActorsMin"`
	ActorsMax  float64 `ini:"fLODFadeOutMultActorsMax"`
}

// Grass bounds the dynamic grass fade distance.
type Grass struct {
	Enable bool    `ini:"bEnable"`
	Factor float64 `ini:"fDynamicValueFactor"`
	Min    float64 `ini:"fGrassStartFadeDistanceMin"`
	Max    float64 `ini:"fGrassStartFadeDistanceMax"`
}

// BlockLevel is one draw distance tier.
type BlockLevel struct {
	Level2 float64 `ini:"fBlockLevel2Distance"`
	Level1 float64 `ini:"fBlockLevel1Distance"`
	Level0 float64 `ini:"fBlockLevel0Distance"`
}

// Terrain is the first tier plus the switch for tier adjustment.
type Terrain struct {
	Enable bool    `ini:"bEnable"`
	Level2 float64 `ini:"fBlockLevel2Distance"`
	Level1 float64 `ini:"fBlockLevel1Distance"`
	Level0 float64 `ini:"fBlockLevel0Distance"`
}

// GodRays overrides the volumetric lighting settings.
type GodRays struct {
	Enable  bool    `ini:"bEnable"`
	Quality int     `ini:"iQuality"`
	Grid    int     `ini:"iGrid"`
	Scale   float64 `ini:"fScale"`
	Cascade int     `ini:"iCascade"`
}

// Config is the complete controller configuration.
type Config struct {
	Main    Main       `ini:"Main"`
	Shadow  Shadow     `ini:"Shadow"`
	Lod     Lod        `ini:"Lod"`
	Grass   Grass      `ini:"Grass"`
	Terrain Terrain    `ini:"TerrainManager"`
	Level1  BlockLevel `ini:"TerrainManager:Level1"`
	Level2  BlockLevel `ini:"TerrainManager:Level2"`
	Level3  BlockLevel `ini:"TerrainManager:Level3"`
	GodRays GodRays    `ini:"GodRays"`
}

// Default returns the configuration used when no file exists. Block level
// and god ray adjustment are off.
func Default() *Config {
	return &Config{
		Main:    Main{FpsTarget: 90, FpsDelay: 10, MsTolerance: 0.5},
		Shadow:  Shadow{Enable: true, Factor: 30, Min: 500, Max: 8000},
		Lod:     Lod{Enable: true, Factor: 0.1, ObjectsMin: 4.5, ObjectsMax: 10, ItemsMin: 2.5, ItemsMax: 8, ActorsMin: 6, ActorsMax: 15},
		Grass:   Grass{Enable: true, Factor: 30, Min: 3500, Max: 7000},
		Terrain: Terrain{Level2: 110000, Level1: 90000, Level0: 60000},
		Level1:  BlockLevel{Level2: 80000, Level1: 60000, Level0: 30000},
		Level2:  BlockLevel{Level2: 80000, Level1: 32000, Level0: 20000},
		Level3:  BlockLevel{Level2: 75000, Level1: 25000, Level0: 15000},
		GodRays: GodRays{Quality: 3, Grid: 8, Scale: 0.4, Cascade: 1},
	}
}

// BlockLevels returns the tiers from the highest (index 0) to the lowest.
func (c *Config) BlockLevels() [BlockLevels]BlockLevel {
	return [BlockLevels]BlockLevel{
		{Level2: c.Terrain.Level2, Level1: c.Terrain.Level1, Level0: c.Terrain.Level0},
		c.Level1,
		c.Level2,
		c.Level3,
	}
}

// Load reads mainPath and then overridePath on top of the defaults. Either
// file may be missing; a missing main file is created with the defaults.
// Keys absent from both files keep their default value; malformed values
// are an error.
func Load(mainPath, overridePath string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(mainPath); errors.Is(err, fs.ErrNotExist) {
		if err := cfg.Save(mainPath); err != nil {
			return nil, err
		}
	}

	sources := []interface{}{}
	if overridePath != "" {
		sources = append(sources, overridePath)
	}
	f, err := ini.LooseLoad(mainPath, sources...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", mainPath, err)
	}
	if err := f.StrictMapTo(cfg); err != nil {
		return nil, fmt.Errorf("map %s: %w", mainPath, err)
	}
	return cfg, nil
}

// Save writes the whole configuration to path.
func (c *Config) Save(path string) error {
	f := ini.Empty()
	if err := f.ReflectFrom(c); err != nil {
		return fmt.Errorf("reflect config: %w", err)
	}
	return f.SaveTo(path)
}
