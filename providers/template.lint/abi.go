//go:build wasip1

package main

import (
	"encoding/json"
	"fmt"
	"runtime"
	"unsafe"
)

// Log levels understood by the host's log function.
const (
	logDebug uint32 = 0
	logInfo  uint32 = 1
	logWarn  uint32 = 2
	logError uint32 = 3
)

//go:wasmimport env read_template
func hostReadTemplate(pathPtr, pathLen uint32) uint64

//go:wasmimport env log
func hostLog(level, msgPtr, msgLen uint32)

// allocations pins buffers handed across the module boundary so the
// garbage collector leaves them in place until the host frees them.
var allocations = make(map[uint32][]byte)

//go:wasmexport malloc
func wasmMalloc(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	buf := make([]byte, size)
	ptr := bufPtr(buf)
	allocations[ptr] = buf
	return ptr
}

//go:wasmexport free
func wasmFree(ptr uint32) {
	delete(allocations, ptr)
}

//go:wasmexport lint
func wasmLint(reqPtr, reqLen uint32) uint64 {
	request := copyMemory(reqPtr, reqLen)

	var req lintRequest
	if err := json.Unmarshal(request, &req); err != nil {
		logMessage(logError, fmt.Sprintf("bad lint request: %v", err))
		return respond(lintResponse{})
	}

	source, ok := readTemplate(req.TemplatePath)
	if !ok {
		logMessage(logWarn, "template "+req.TemplatePath+" is not readable")
		return respond(lintResponse{})
	}

	return respond(lintResponse{Findings: runChecks(string(source))})
}

// respond marshals the response into a pinned buffer and packs its
// location into the u64 the host unpacks as ptr<<32|len.
func respond(resp lintResponse) uint64 {
	data, err := json.Marshal(resp)
	if err != nil {
		return 0
	}
	if len(data) == 0 {
		return 0
	}
	ptr := wasmMalloc(uint32(len(data)))
	if ptr == 0 {
		return 0
	}
	copy(allocations[ptr], data)
	return uint64(ptr)<<32 | uint64(len(data))
}

// readTemplate asks the host for the template source. The returned
// buffer lives in our own memory (the host wrote it through malloc), so
// copy it out and free the allocation.
func readTemplate(path string) ([]byte, bool) {
	if path == "" {
		return nil, false
	}
	pathBytes := []byte(path)
	packed := hostReadTemplate(bufPtr(pathBytes), uint32(len(pathBytes)))
	runtime.KeepAlive(pathBytes)
	if packed == 0 {
		return nil, false
	}
	ptr := uint32(packed >> 32)
	length := uint32(packed & 0xFFFFFFFF)
	data := copyMemory(ptr, length)
	wasmFree(ptr)
	return data, true
}

func logMessage(level uint32, message string) {
	if message == "" {
		return
	}
	msg := []byte(message)
	hostLog(level, bufPtr(msg), uint32(len(msg)))
	runtime.KeepAlive(msg)
}

func copyMemory(ptr, length uint32) []byte {
	if ptr == 0 || length == 0 {
		return nil
	}
	data := make([]byte, length)
	copy(data, unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length))
	return data
}

func bufPtr(buf []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
}
