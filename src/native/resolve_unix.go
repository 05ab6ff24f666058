//go:build darwin || freebsd || linux

package native

import (
	"fmt"

	"github.com/ebitengine/purego"

	"hlvm/src/code"
)

// -------------------
// ----- Globals -----
// -------------------

// libHandles caches opened shared libraries by name.
var libHandles = make(map[string]uintptr)

// ---------------------
// ----- Functions -----
// ---------------------

// Resolve looks a native import up in its shared library. It satisfies
// code.NativeResolver.
func Resolve(lib, name string, t *code.Type) (uintptr, error) {
	handle, ok := libHandles[lib]
	if !ok {
		var err error
		handle, err = purego.Dlopen(lib, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			return 0, fmt.Errorf("could not open library %s: %s", lib, err)
		}
		libHandles[lib] = handle
	}
	sym, err := purego.Dlsym(handle, name)
	if err != nil {
		return 0, fmt.Errorf("could not resolve symbol %s: %s", name, err)
	}
	return sym, nil
}
