package util

import "testing"

// TestFatalPanicsWithMessage verifies that a fatal failure carries its
// message through the typed panic.
func TestFatalPanicsWithMessage(t *testing.T) {
	defer func() {
		fe, ok := recover().(FatalError)
		if !ok {
			t.Fatalf("expected a FatalError panic")
		}
		if fe.Msg != "null access" {
			t.Errorf("expected %q, got %q", "null access", fe.Msg)
		}
		if fe.Error() != fe.Msg {
			t.Errorf("Error() must return the message")
		}
	}()
	Fatal("null access")
}

// TestFatalfFormats verifies message formatting.
func TestFatalfFormats(t *testing.T) {
	defer func() {
		fe, ok := recover().(FatalError)
		if !ok {
			t.Fatalf("expected a FatalError panic")
		}
		if fe.Msg != "bad register 3" {
			t.Errorf("unexpected message %q", fe.Msg)
		}
	}()
	Fatalf("bad register %d", 3)
}
