package odoo

import (
	"errors"
	"fmt"
)

// FaultCode is the faultCode Odoo puts in an XML-RPC fault.
type FaultCode int

// Fault codes emitted by odoo/addons/base/controllers/rpc.py.
const (
	FaultApplicationError FaultCode = 1
	FaultWarning          FaultCode = 2
	FaultAccessDenied     FaultCode = 3
	FaultAccessError      FaultCode = 4
)

func (c FaultCode) String() string {
	switch c {
	case FaultApplicationError:
		return "application-error"
	case FaultWarning:
		return "warning"
	case FaultAccessDenied:
		return "access-denied"
	case FaultAccessError:
		return "access-error"
	default:
		return fmt.Sprintf("fault-%d", int(c))
	}
}

// Fault is a logical rejection returned by the Odoo server.
type Fault struct {
	Code    FaultCode
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("odoo %s fault: %s", f.Code, f.Message)
}

// Warning builds a warning-class fault, the class Odoo uses for user errors.
func Warning(message string) *Fault {
	return &Fault{Code: FaultWarning, Message: message}
}

// ProtocolError is a transport-level failure, typically a non-2xx HTTP status.
type ProtocolError struct {
	URL     string
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("odoo protocol error %d calling %s: %s", e.Code, e.URL, e.Message)
}

// AsFault returns the Fault in err's chain, if any.
func AsFault(err error) (*Fault, bool) {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault, true
	}
	return nil, false
}

// AsProtocolError returns the ProtocolError in err's chain, if any.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
