package native

import (
	"hlvm/src/code"
	"hlvm/src/runtime"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// BytecodeCallback re-enters the interpreter from native code: it invokes
// the given bytecode function with raw argument cells and lands the result
// in the return box. Argument types are read from the function type.
type BytecodeCallback func(fun *code.Function, t *code.Type, args [][]byte, ret *runtime.Dynamic)

// -------------------
// ----- Globals -----
// -------------------

// callback is the installed re-entry point. The interpreter context installs
// it once at initialisation.
var callback BytecodeCallback

// ---------------------
// ----- Functions -----
// ---------------------

// SetupCallback installs the bytecode re-entry point.
func SetupCallback(cb BytecodeCallback) {
	callback = cb
}

// Callback returns the installed re-entry point, or nil before init.
func Callback() BytecodeCallback {
	return callback
}
