package host

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"
)

// lintBridge calls into a plugin module's exported functions. The wire
// contract is JSON over linear memory: the host allocates guest memory
// with the plugin's malloc, writes the request, and the plugin returns
// its response as a packed pointer and length.
type lintBridge struct {
	// module is the instantiated plugin.
	module api.Module

	// memory is the plugin's linear memory.
	memory api.Memory

	// malloc allocates guest memory for request and response buffers.
	malloc api.Function

	// free releases guest memory.
	free api.Function

	// lint is the plugin's lint entrypoint.
	lint api.Function

	// timeout bounds one lint call.
	timeout time.Duration
}

// newLintBridge resolves the exports the lint contract requires.
func newLintBridge(module api.Module, timeout time.Duration) (*lintBridge, error) {
	bridge := &lintBridge{
		module:  module,
		timeout: timeout,
	}

	bridge.memory = module.Memory()
	if bridge.memory == nil {
		return nil, fmt.Errorf("WASM module does not export memory")
	}

	bridge.malloc = module.ExportedFunction("malloc")
	if bridge.malloc == nil {
		return nil, fmt.Errorf("WASM module does not export malloc function")
	}

	bridge.free = module.ExportedFunction("free")
	if bridge.free == nil {
		return nil, fmt.Errorf("WASM module does not export free function")
	}

	bridge.lint = module.ExportedFunction("lint")
	if bridge.lint == nil {
		return nil, fmt.Errorf("WASM module does not export lint function")
	}

	return bridge, nil
}

// Lint calls the plugin's lint export with a JSON request and returns
// the raw JSON response. The call context carries the bridge timeout;
// close-on-context-done tears the module down if the plugin hangs.
func (b *lintBridge) Lint(ctx context.Context, request []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	result, err := b.call(ctx, b.lint, request)
	if err != nil {
		return nil, fmt.Errorf("lint failed: %w", err)
	}
	return result, nil
}

// call invokes a guest function with JSON input and output.
// Function signature: fn(input_ptr: u32, input_len: u32) -> u64 where
// the return packs (output_ptr << 32) | output_len.
func (b *lintBridge) call(ctx context.Context, fn api.Function, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate WASM memory: %w", err)
		}
		defer b.deallocate(ctx, ptr)

		inputPtr = ptr
		inputLen = uint32(len(input))

		if !b.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to WASM memory")
		}
	}

	results, err := fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)

	if outputLen == 0 {
		return []byte("{}"), nil
	}

	output, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}

	// Copy before freeing: Read returns a view of guest memory.
	response := make([]byte, len(output))
	copy(response, output)

	if err := b.deallocate(ctx, outputPtr); err != nil {
		// Output was already copied out; a leaked buffer in a module
		// this short-lived is not worth failing the pass.
		_ = err
	}

	return response, nil
}

// allocate allocates guest memory and returns the pointer.
func (b *lintBridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}

	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return ptr, nil
}

// deallocate frees guest memory.
func (b *lintBridge) deallocate(ctx context.Context, ptr uint32) error {
	if _, err := b.free.Call(ctx, uint64(ptr)); err != nil {
		return fmt.Errorf("free failed: %w", err)
	}
	return nil
}
