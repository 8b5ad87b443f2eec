package endpoint

import (
	"errors"
	"fmt"
)

// DeliveryKind classifies why a batch was not delivered.
type DeliveryKind string

const (
	// KindTransport covers connection failures and timeouts.
	KindTransport DeliveryKind = "transport"
	// KindRejected covers non-2xx responses.
	KindRejected DeliveryKind = "rejected"
	// KindSerialization covers batches that could not be encoded or responses
	// that could not be decoded.
	KindSerialization DeliveryKind = "serialization"
)

// DeliveryError reports that a batch was not accepted by the endpoint.
type DeliveryError struct {
	Kind       DeliveryKind
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("delivery %s: status %d: %s", e.Kind, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("delivery %s: status %d", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("delivery %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("delivery %s", e.Kind)
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ErrorKind implements the queue.ErrorClassifier convention.
func (e *DeliveryError) ErrorKind() string { return "delivery_" + string(e.Kind) }

// AsDeliveryError extracts a *DeliveryError from err.
func AsDeliveryError(err error) (*DeliveryError, bool) {
	var target *DeliveryError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
