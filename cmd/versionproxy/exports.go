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

package main

import "C"

var (
	procGetFileVersionInfoA        = version.NewProc("GetFileVersionInfoA")
	procGetFileVersionInfoByHandle = version.NewProc("GetFileVersionInfoByHandle")
	procGetFileVersionInfoExA      = version.NewProc("GetFileVersionInfoExA")
	procGetFileVersionInfoExW      = version.NewProc("GetFileVersionInfoExW")
	procGetFileVersionInfoSizeA    = version.NewProc("GetFileVersionInfoSizeA")
	procGetFileVersionInfoSizeExA  = version.NewProc("GetFileVersionInfoSizeExA")
	procGetFileVersionInfoSizeExW  = version.NewProc("GetFileVersionInfoSizeExW")
	procGetFileVersionInfoSizeW    = version.NewProc("GetFileVersionInfoSizeW")
	procGetFileVersionInfoW        = version.NewProc("GetFileVersionInfoW")
	procVerFindFileA               = version.NewProc("VerFindFileA")
	procVerFindFileW               = version.NewProc("VerFindFileW")
	procVerInstallFileA            = version.NewProc("VerInstallFileA")
	procVerInstallFileW            = version.NewProc("VerInstallFileW")
	procVerLanguageNameA           = version.NewProc("VerLanguageNameA")
	procVerLanguageNameW           = version.NewProc("VerLanguageNameW")
	procVerQueryValueA             = version.NewProc("VerQueryValueA")
	procVerQueryValueW             = version.NewProc("VerQueryValueW")
)

//export GetFileVersionInfoA
func GetFileVersionInfoA(filename, handle, size, data uintptr) uintptr {
	return forward(procGetFileVersionInfoA, filename, handle, size, data)
}

//export GetFileVersionInfoByHandle
func GetFileVersionInfoByHandle(mem, filename, handle, size uintptr) uintptr {
	return forward(procGetFileVersionInfoByHandle, mem, filename, handle, size)
}

//export GetFileVersionInfoExA
func GetFileVersionInfoExA(flags, filename, handle, size, data uintptr) uintptr {
	return forward(procGetFileVersionInfoExA, flags, filename, handle, size, data)
}

//export GetFileVersionInfoExW
func GetFileVersionInfoExW(flags, filename, handle, size, data uintptr) uintptr {
	return forward(procGetFileVersionInfoExW, flags, filename, handle, size, data)
}

//export GetFileVersionInfoSizeA
func GetFileVersionInfoSizeA(filename, handle uintptr) uintptr {
	return forward(procGetFileVersionInfoSizeA, filename, handle)
}

//export GetFileVersionInfoSizeExA
func GetFileVersionInfoSizeExA(flags, filename, handle uintptr) uintptr {
	return forward(procGetFileVersionInfoSizeExA, flags, filename, handle)
}

//export GetFileVersionInfoSizeExW
func GetFileVersionInfoSizeExW(flags, filename, handle uintptr) uintptr {
	return forward(procGetFileVersionInfoSizeExW, flags, filename, handle)
}

//export GetFileVersionInfoSizeW
func GetFileVersionInfoSizeW(filename, handle uintptr) uintptr {
	return forward(procGetFileVersionInfoSizeW, filename, handle)
}

//export GetFileVersionInfoW
func GetFileVersionInfoW(filename, handle, size, data uintptr) uintptr {
	return forward(procGetFileVersionInfoW, filename, handle, size, data)
}

//export VerFindFileA
func VerFindFileA(flags, filename, winDir, appDir, curDir, curDirLen, destDir, destDirLen uintptr) uintptr {
	return forward(procVerFindFileA, flags, filename, winDir, appDir, curDir, curDirLen, destDir, destDirLen)
}

//export VerFindFileW
func VerFindFileW(flags, filename, winDir, appDir, curDir, curDirLen, destDir, destDirLen uintptr) uintptr {
	return forward(procVerFindFileW, flags, filename, winDir, appDir, curDir, curDirLen, destDir, destDirLen)
}

//export VerInstallFileA
func VerInstallFileA(flags, srcName, destName, srcDir, destDir, curDir, tmpFile, tmpFileLen uintptr) uintptr {
	return forward(procVerInstallFileA, flags, srcName, destName, srcDir, destDir, curDir, tmpFile, tmpFileLen)
}

//export VerInstallFileW
func VerInstallFileW(flags, srcName, destName, srcDir, destDir, curDir, tmpFile, tmpFileLen uintptr) uintptr {
	return forward(procVerInstallFileW, flags, srcName, destName, srcDir, destDir, curDir, tmpFile, tmpFileLen)
}

//export VerLanguageNameA
func VerLanguageNameA(lang, buf, size uintptr) uintptr {
	return forward(procVerLanguageNameA, lang, buf, size)
}

//export VerLanguageNameW
func VerLanguageNameW(lang, buf, size uintptr) uintptr {
	return forward(procVerLanguageNameW, lang, buf, size)
}

//export VerQueryValueA
func VerQueryValueA(block, subBlock, buf, size uintptr) uintptr {
	return forward(procVerQueryValueA, block, subBlock, buf, size)
}

//export VerQueryValueW
func VerQueryValueW(block, subBlock, buf, size uintptr) uintptr {
	return forward(procVerQueryValueW, block, subBlock, buf, size)
}
