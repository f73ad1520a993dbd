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
	"strings"
	"unsafe"

	"github.com/apex/log"
	"github.com/apex/log/handlers/logfmt"
	"golang.org/x/sys/windows"
)

type debugWriter struct{}

func (debugWriter) Write(p []byte) (int, error) {
	s := "[ShadowCascade] " + strings.TrimRight(string(p), "\n") + "\n"
	ptr, err := windows.UTF16PtrFromString(s)
	if err != nil {
		return 0, err
	}
	procOutputDebugStringW.Call(uintptr(unsafe.Pointer(ptr)))
	return len(p), nil
}

func debuggerHandler() log.Handler {
	return logfmt.New(debugWriter{})
}
