package runtime

import (
	"golang.org/x/text/encoding/unicode"
)

// ---------------------
// ----- Functions -----
// ---------------------

// EncodeUTF16 encodes a string into UTF-16LE bytes with a two-byte
// terminator, the wire form of interned strings.
func EncodeUTF16(s string) []byte {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	b, err := enc.Bytes([]byte(s))
	if err != nil {
		// Unencodable input degrades to the raw bytes; interned strings come
		// from the module's own pool and are expected to be valid.
		b = []byte(s)
	}
	return append(b, 0, 0)
}

// AllocUString places the UTF-16 encoding of s on the heap as a bytes value.
func AllocUString(h *Heap, s string) Handle {
	return h.Alloc(&Bytes{Data: EncodeUTF16(s)})
}
