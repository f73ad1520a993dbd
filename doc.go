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

/*
Package shadowcascade expands the shadow cascade pipeline of a running
Fallout 4 VR process from two cascades to four by patching the loaded
executable in place.

The host executable is packed and decrypts its own code at start-up, and
allocates the structures the patches depend on over several seconds. The
[Engine] therefore runs an ordered sequence of stages ([Stage]), each gated
by its predecessor and by what it observes in host memory, and re-runs it
from a background poller until all four cascades are enabled. A stage
either completes or leaves the host as it was; it is retried on the next
tick.

# Platforms supported

Patching only makes sense on Windows x86-64, inside the host process. The
package builds on Linux and macOS as well so that the patch logic can be
tested against [SimMemory], a simulated address space, and so that the
live memory backend can be exercised on Linux.

# Patch sites

Every site is verified before it is written: the bytes found must be either
the stock bytes or the replacement, anything else means a different build
of the host and the site is left alone. Three kinds of patches are used:

  - single byte replacement of an immediate or a branch opcode ([Patcher.PatchByte]);
  - rewriting "mov r32, [rip+disp32]" of the cascade count global into
    "mov r32, 4" of the same length ([EncodeLoadImmediate]);
  - redirecting an instruction into a code cave allocated within rel32
    range of the site ([Builder.Redirect]). The caves add null checks,
    clear stale pool links, zero freshly claimed entries and validate
    pointers read by the renderer, zeroing the slot a corrupt pointer came
    from so the host re-creates it ([AssemblePointerValidator]).

[Sites] lists every location.

# Usage

The engine is driven by the version.dll forwarding shim in cmd/versionproxy:

	var engine = shadowcascade.New(shadowcascade.Options{})

	func init() { engine.Initialize() }

	//export GetFileVersionInfoW
	func GetFileVersionInfoW(a, b, c, d uintptr) uintptr {
		engine.EnsureInitialized()
		...
	}

cmd/cascadectl runs the same engine against a simulated host.
*/
package shadowcascade
