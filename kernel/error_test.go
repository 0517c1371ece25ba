package kernel

import "testing"

func TestKernelError(t *testing.T) {
	err := &Error{
		Module:  "pmm",
		Message: "out of memory",
	}

	if err.Error() != err.Message {
		t.Fatalf("expected to err.Error() to return %q; got %q", err.Message, err.Error())
	}

	var asIface error = err
	if asIface.Error() != "out of memory" {
		t.Fatalf("expected *Error to satisfy the error interface; got %q", asIface.Error())
	}
}
