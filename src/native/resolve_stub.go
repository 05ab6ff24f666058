//go:build !(darwin || freebsd || linux)

package native

import (
	"fmt"

	"hlvm/src/code"
)

// ---------------------
// ----- Functions -----
// ---------------------

// Resolve reports that shared-library lookup is unavailable on this target.
// Hosts can still register Go natives through RegisterGoNative.
func Resolve(lib, name string, t *code.Type) (uintptr, error) {
	return 0, fmt.Errorf("no shared library resolution on this platform (wanted %s@%s)", name, lib)
}
