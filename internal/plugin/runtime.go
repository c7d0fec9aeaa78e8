package plugin

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"golang.org/x/crypto/sha3"
)

// Runtime wraps goja VM with plugin-specific bindings
type Runtime struct {
	vm     *goja.Runtime
	logger zerolog.Logger
}

// NewRuntime creates a new Runtime with all necessary bindings
func NewRuntime(logger zerolog.Logger) *Runtime {
	vm := goja.New()
	r := &Runtime{
		vm:     vm,
		logger: logger,
	}
	r.setupBindings()
	return r
}

// VM returns the underlying goja runtime
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// setupBindings sets up all JavaScript bindings
func (r *Runtime) setupBindings() {
	r.setupConsole()
	r.setupUtils()
}

// setupConsole creates console.log, console.error, console.warn and console.debug
func (r *Runtime) setupConsole() {
	console := r.vm.NewObject()

	levels := map[string]func() *zerolog.Event{
		"log":   r.logger.Info,
		"error": r.logger.Error,
		"warn":  r.logger.Warn,
		"debug": r.logger.Debug,
	}
	for name, event := range levels {
		event := event
		console.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			event().Msgf("[plugin] %v", args)
			return goja.Undefined()
		})
	}

	r.vm.Set("console", console)
}

// setupUtils creates helper functions for batch handlers
func (r *Runtime) setupUtils() {
	utils := r.vm.NewObject()

	// keccak256 hashes a string, hex string or byte array, e.g. to derive idempotency keys
	utils.Set("keccak256", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(r.vm.ToValue("keccak256 requires 1 argument"))
		}
		var data []byte
		exported := call.Arguments[0].Export()
		switch v := exported.(type) {
		case string:
			if strings.HasPrefix(v, "0x") {
				var err error
				data, err = hex.DecodeString(strings.TrimPrefix(v, "0x"))
				if err != nil {
					panic(r.vm.ToValue(fmt.Sprintf("invalid hex string: %v", err)))
				}
			} else {
				data = []byte(v)
			}
		default:
			var ok bool
			data, ok = exportBytes(v)
			if !ok {
				panic(r.vm.ToValue("keccak256 requires string or byte array"))
			}
		}

		hash := sha3.NewLegacyKeccak256()
		hash.Write(data)
		return r.vm.ToValue("0x" + hex.EncodeToString(hash.Sum(nil)))
	})

	// chunk splits an array into arrays of at most n elements
	utils.Set("chunk", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(r.vm.ToValue("chunk requires array and size"))
		}
		items, ok := call.Arguments[0].Export().([]interface{})
		if !ok {
			panic(r.vm.ToValue("chunk requires array"))
		}
		size := int(call.Arguments[1].ToInteger())
		if size <= 0 {
			panic(r.vm.ToValue("chunk size must be positive"))
		}
		chunks := make([]interface{}, 0, (len(items)+size-1)/size)
		for start := 0; start < len(items); start += size {
			end := start + size
			if end > len(items) {
				end = len(items)
			}
			chunks = append(chunks, items[start:end])
		}
		return r.vm.ToValue(chunks)
	})

	// parseJSON parses JSON string
	utils.Set("parseJSON", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(r.vm.ToValue("parseJSON requires string"))
		}
		var result interface{}
		if err := json.Unmarshal([]byte(call.Arguments[0].String()), &result); err != nil {
			panic(r.vm.ToValue(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return r.vm.ToValue(result)
	})

	// stringifyJSON converts value to JSON string
	utils.Set("stringifyJSON", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(r.vm.ToValue("stringifyJSON requires value"))
		}
		data, err := json.Marshal(call.Arguments[0].Export())
		if err != nil {
			panic(r.vm.ToValue(fmt.Sprintf("JSON stringify error: %v", err)))
		}
		return r.vm.ToValue(string(data))
	})

	r.vm.Set("utils", utils)
}

// exportBytes converts an exported JS value to bytes
func exportBytes(v interface{}) ([]byte, bool) {
	switch val := v.(type) {
	case []byte:
		return val, true
	case []interface{}:
		bytes := make([]byte, len(val))
		for i, b := range val {
			switch num := b.(type) {
			case int64:
				bytes[i] = byte(num)
			case float64:
				bytes[i] = byte(num)
			}
		}
		return bytes, true
	default:
		return nil, false
	}
}

// RunScript executes JavaScript code and returns the result
func (r *Runtime) RunScript(script string) (goja.Value, error) {
	return r.vm.RunString(script)
}

// CallFunction calls a JavaScript function by name
func (r *Runtime) CallFunction(name string, args ...interface{}) (goja.Value, error) {
	fn, ok := goja.AssertFunction(r.vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("function %s not defined", name)
	}

	jsArgs := make([]goja.Value, len(args))
	for i, arg := range args {
		jsArgs[i] = r.vm.ToValue(arg)
	}

	return fn(goja.Undefined(), jsArgs...)
}
