package judge

import "fmt"

// InvocationError reports a failure calling the judge backend.
type InvocationError struct {
	Err     error
	Timeout bool
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("judge invocation failed: %v", e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// MalformedOutputError reports judge output that does not match the verdict
// contract. Raw holds the output verbatim.
type MalformedOutputError struct {
	Raw    string
	Reason string
}

func (e *MalformedOutputError) Error() string {
	return "malformed judge output: " + e.Reason
}
