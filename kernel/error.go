package kernel

// Error describes a kernel error. Kernel code may run before the Go allocator
// is available (or while interrupts are masked) so errors are never built on
// demand; every error is a package-level *Error value and callers compare
// errors by identity.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
