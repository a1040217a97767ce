package casclient

import "fmt"

// MalformedXMLError is returned when a CAS /serviceValidate response
// cannot be parsed, or does not have a <serviceResponse> root. Rendered
// as a 500 to the caller.
type MalformedXMLError struct {
	Reason string
	Err    error
}

func (e *MalformedXMLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed CAS response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed CAS response: %s", e.Reason)
}

func (e *MalformedXMLError) Unwrap() error { return e.Err }

// DeniedError is returned when a ticket fails validation or an
// access-control plugin rejects the user. Rendered as a 403 to the
// caller.
type DeniedError struct {
	Reason string
	Plugin string
}

func (e *DeniedError) Error() string {
	if e.Plugin != "" {
		return fmt.Sprintf("access denied (%s): %s", e.Plugin, e.Reason)
	}
	return fmt.Sprintf("access denied: %s", e.Reason)
}
