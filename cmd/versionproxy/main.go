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

//go:build windows

// Command versionproxy builds a drop-in version.dll for the host executable:
//
//	go build -buildmode=c-shared -o version.dll ./cmd/versionproxy
//
// Every export forwards to the system version.dll. The first call into any
// of them opens the diagnostic log and starts the cascade engine.
package main

import "C"

import (
	"golang.org/x/sys/windows"

	"github.com/qrdl/shadowcascade"
)

var (
	engine  *shadowcascade.Engine
	version = windows.NewLazySystemDLL("version.dll")
)

func init() {
	engine = shadowcascade.New(shadowcascade.Options{})
	engine.Initialize()
}

// forward calls the system export of the same name. A missing export
// returns 0, which every version.dll entry point treats as failure.
func forward(proc *windows.LazyProc, args ...uintptr) uintptr {
	engine.EnsureInitialized()
	if proc.Find() != nil {
		return 0
	}
	r, _, _ := proc.Call(args...)
	return r
}

// ShadowCascadeShutdown writes the activation summary and closes the log.
// The loader gives Go no detach notification, so the host or a companion
// plugin calls this on exit.
//
//export ShadowCascadeShutdown
func ShadowCascadeShutdown() {
	engine.Shutdown()
}

func main() {}
