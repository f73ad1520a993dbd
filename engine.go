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

package shadowcascade

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
)

// Stage is one step of the activation sequence. Stages complete in order
// and never revert.
type Stage int

const (
	TextDecrypted Stage = iota
	CountPatched
	SafeModePatched
	ShaderCtorPatched
	ArrayExpanded
	SafetyPatchesApplied
	MaskRestored

	stageCount
)

var stageNames = [stageCount]string{
	"TextDecrypted",
	"CountPatched",
	"SafeModePatched",
	"ShaderCtorPatched",
	"ArrayExpanded",
	"SafetyPatchesApplied",
	"MaskRestored",
}

func (s Stage) String() string {
	if s < 0 || s >= stageCount {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Stages lists all stages in activation order.
func Stages() []Stage {
	res := make([]Stage, stageCount)
	for i := range res {
		res[i] = Stage(i)
	}
	return res
}

const (
	defaultPollDelay        = 2 * time.Second
	defaultPollInterval     = 500 * time.Millisecond
	defaultDiagnosticsAfter = 30
)

// Options configure an Engine. Zero values select the live process.
type Options struct {
	// Memory defaults to LiveMemory().
	Memory Memory
	// Image defaults to ProcessImage().
	Image *Image
	// LogHandler replaces the diagnostic log file.
	LogHandler log.Handler
	// LogPath defaults to DefaultLogPath().
	LogPath string

	PollDelay        time.Duration
	PollInterval     time.Duration
	DiagnosticsAfter int // ticks after activation before the final dump

	// RefreshEntries re-copies entries 0-1 over 2-3 once the host fills them.
	RefreshEntries bool
	// SkipStereoFix leaves the instanced stereo branch alone.
	SkipStereoFix bool
	// ReleaseCaves makes Shutdown restore cave sites and free the caves.
	ReleaseCaves bool
}

// Engine drives the activation sequence. One Engine exists per process.
type Engine struct {
	opts    Options
	mem     Memory
	image   *Image
	log     *log.Logger
	diag    *DiagnosticLog
	patcher *Patcher
	builder *Builder

	stages [stageCount]atomic.Bool

	// one-shot side patches outside the stage chain
	countForced      atomic.Bool
	stereoFixed      atomic.Bool
	distanceScaled   atomic.Bool
	setupNodeFixed   atomic.Bool
	groupsForced     atomic.Bool
	entriesRefreshed atomic.Bool
	arrayLogged      atomic.Bool
	flatLogged       atomic.Bool
	diagnosed        atomic.Bool

	pass          sync.Mutex
	setup         sync.Once
	initialized   atomic.Bool
	pollerStarted atomic.Bool
	pollMu        sync.Mutex
	poller        *poller
}

// New returns an Engine with no stage reached. Nothing runs until Advance.
func New(opts Options) *Engine {
	if opts.Memory == nil {
		opts.Memory = LiveMemory()
	}
	if opts.Image == nil {
		opts.Image = ProcessImage()
	}
	if opts.PollDelay == 0 {
		opts.PollDelay = defaultPollDelay
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.DiagnosticsAfter == 0 {
		opts.DiagnosticsAfter = defaultDiagnosticsAfter
	}

	e := &Engine{opts: opts, mem: opts.Memory, image: opts.Image}
	handler := opts.LogHandler
	if handler == nil {
		e.diag = NewDiagnosticLog()
		handler = e.diag
	}
	e.log = &log.Logger{Handler: handler, Level: log.DebugLevel}
	e.patcher = NewPatcher(e.mem, e.log)
	e.builder = NewBuilder(e.mem, e.log)
	return e
}

// Initialize is called at process attach. It touches no host memory.
func (e *Engine) Initialize() {
	e.initialized.Store(true)
}

// EnsureInitialized performs one-time setup and a best-effort activation
// pass, then starts the poller once safe mode is in place. When the poller
// runs it returns after a single flag check.
func (e *Engine) EnsureInitialized() {
	if e.pollerStarted.Load() {
		return
	}
	e.setup.Do(e.openLog)
	if e.Done(MaskRestored) {
		return
	}
	e.Advance()
	if e.Done(SafeModePatched) && !e.Done(MaskRestored) {
		e.startPolling()
	}
}

func (e *Engine) openLog() {
	if e.diag != nil {
		path := e.opts.LogPath
		if path == "" {
			path = DefaultLogPath()
		}
		if err := e.diag.Open(path); err != nil {
			e.log.WithError(err).Warn("diagnostic log unavailable")
		}
	}
	e.log.WithFields(log.Fields{
		"base":     fmt.Sprintf("%#x", e.image.Base()),
		"cascades": CascadeCount,
		"attached": e.initialized.Load(),
	}).Info("engine starting")
}

func (e *Engine) startPolling() {
	if !e.pollerStarted.CompareAndSwap(false, true) {
		return
	}
	e.pollMu.Lock()
	e.poller = startPoller(e.opts.PollDelay, e.opts.PollInterval, e.tick)
	e.pollMu.Unlock()
	e.log.WithFields(log.Fields{
		"delay":    e.opts.PollDelay.String(),
		"interval": e.opts.PollInterval.String(),
	}).Info("poller started")
}

// Done reports whether stage s has completed.
func (e *Engine) Done(s Stage) bool {
	return e.stages[s].Load()
}

// Active reports whether all four cascades are enabled.
func (e *Engine) Active() bool {
	return e.Done(MaskRestored)
}

// complete marks s done and reports whether this call did it.
func (e *Engine) complete(s Stage) bool {
	if !e.stages[s].CompareAndSwap(false, true) {
		return false
	}
	e.log.WithField("stage", s.String()).Info("stage complete")
	return true
}

// ready reports whether s may run: not done yet and its predecessor done.
func (e *Engine) ready(s Stage) bool {
	if e.Done(s) {
		return false
	}
	return s == 0 || e.Done(s-1)
}

// Advance runs one pass of the activation sequence as far as host state
// allows. A pass already in progress on another goroutine makes this a no-op.
func (e *Engine) Advance() {
	if !e.pass.TryLock() {
		return
	}
	defer e.pass.Unlock()

	e.checkDecrypted()
	e.clampMask()
	e.forceCount()
	e.patchCountReads()
	e.applySafeMode()
	e.patchShaderCtor()
	e.patchStereoDispatch()
	e.scaleShadowDistance()
	e.expandArray()
	e.refreshEntries()
	e.applySafetyPatches()
	e.restoreMask()
}

func (e *Engine) tick(n int) bool {
	e.maintain()
	if !e.Done(MaskRestored) {
		if n <= 3 || n%20 == 0 {
			e.logState(n)
		}
		e.Advance()
		if e.Done(MaskRestored) {
			e.log.WithField("tick", n).Info("four cascades active")
		}
		return true
	}
	if n > e.opts.DiagnosticsAfter {
		e.logDiagnostics()
		e.log.WithField("tick", n).Info("poller done")
		return false
	}
	return true
}

func (e *Engine) logState(n int) {
	fields := log.Fields{"tick": n}
	for _, s := range Stages() {
		fields[s.String()] = e.Done(s)
	}
	e.log.WithFields(fields).Info("state")
}

// Shutdown stops the poller, writes the final summary and closes the log.
func (e *Engine) Shutdown() {
	e.pollMu.Lock()
	p := e.poller
	e.poller = nil
	e.pollMu.Unlock()
	if p != nil {
		p.stop()
	}

	e.pass.Lock()
	defer e.pass.Unlock()

	if e.opts.ReleaseCaves {
		if err := e.builder.Release(); err != nil {
			e.log.WithError(err).Warn("caves not released")
		}
	}
	e.log.WithFields(e.summary()).Info("shutdown")
	if e.diag != nil {
		e.diag.Close()
	}
}

func (e *Engine) summary() log.Fields {
	yes := func(b bool) string {
		if b {
			return "YES"
		}
		return "NO"
	}
	fields := log.Fields{}
	for _, s := range Stages() {
		fields[s.String()] = yes(e.Done(s))
	}
	fields["CountForced"] = yes(e.countForced.Load())
	fields["StereoFixed"] = yes(e.stereoFixed.Load())
	fields["DistanceScaled"] = yes(e.distanceScaled.Load())
	fields["EntriesRefreshed"] = yes(e.entriesRefreshed.Load())
	return fields
}

// Snapshot is the engine state at one point in time.
// Snapshot is a point-in-time view of an Engine.
type Snapshot struct {
	Stages    map[Stage]bool
	Caves     []Trampoline
	Polling   bool
	Diagnosed bool
}

// Snapshot returns a copy of the engine state for diagnostics.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{Stages: map[Stage]bool{}, Diagnosed: e.diagnosed.Load()}
	for _, st := range Stages() {
		s.Stages[st] = e.Done(st)
	}
	for _, spec := range e.caveSpecs() {
		if t, ok := e.builder.Trampoline(spec.Name); ok {
			s.Caves = append(s.Caves, *t)
		}
	}
	e.pollMu.Lock()
	s.Polling = e.poller != nil && !e.poller.finished()
	e.pollMu.Unlock()
	return s
}

func discardLogger() *log.Logger {
	return &log.Logger{Handler: discard.New(), Level: log.ErrorLevel}
}
