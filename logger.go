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
	"os"
	"path/filepath"
	"sync"

	"github.com/apex/log"
	"github.com/apex/log/handlers/logfmt"
	"github.com/apex/log/handlers/multi"
)

// LogFileName is the name of the diagnostic log created next to the host executable.
const LogFileName = "ShadowCascade.log"

// DiagnosticLog is a log.Handler writing logfmt lines to a file and, where
// the platform has one, to the debugger. Entries from any goroutine are
// serialised. Until Open succeeds only the debugger sees entries.
type DiagnosticLog struct {
	mu      sync.Mutex
	file    *os.File
	handler log.Handler
	mirror  log.Handler
}

// NewDiagnosticLog returns a log that reaches only the debugger until Open.
func NewDiagnosticLog() *DiagnosticLog {
	d := &DiagnosticLog{mirror: debuggerHandler()}
	d.handler = d.mirror
	return d
}

// OpenDiagnosticLog creates a DiagnosticLog writing to path.
func OpenDiagnosticLog(path string) (*DiagnosticLog, error) {
	d := NewDiagnosticLog()
	if err := d.Open(path); err != nil {
		return nil, err
	}
	return d, nil
}

// DefaultLogPath returns LogFileName in the directory of the running executable.
func DefaultLogPath() string {
	exe, err := os.Executable()
	if err != nil {
		return LogFileName
	}
	return filepath.Join(filepath.Dir(exe), LogFileName)
}

// Open truncates or creates the log file at path.
func (d *DiagnosticLog) Open(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		d.file.Close()
	}
	d.file = f
	if d.mirror != nil {
		d.handler = multi.New(logfmt.New(f), d.mirror)
	} else {
		d.handler = logfmt.New(f)
	}
	return nil
}

func (d *DiagnosticLog) HandleLog(e *log.Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handler == nil {
		return nil
	}
	return d.handler.HandleLog(e)
}

// Close flushes and closes the file. Later entries go to the debugger only.
func (d *DiagnosticLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Sync()
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	d.file = nil
	d.handler = d.mirror
	return err
}
