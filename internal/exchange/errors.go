package exchange

import (
	"errors"
	"fmt"
)

// Exchange error codes the client handles specially.
const (
	CodeTimestampOutOfWindow = -1021 // local clock drifted past recvWindow
	CodeTooManyRequests      = -1003
	CodeTooManyOrders        = -1015
	CodeUnknownOrder         = -2011
	CodeOrderDoesNotExist    = -2013
	CodeNoNeedToChange       = -4046 // leverage already at requested value
	CodeMarginTypeCantChange = -4048 // open position blocks margin type change
	CodeInvalidOrderType     = -4141 // order type cannot be amended
)

// Synthetic codes for transport failures, so callers see one error shape.
const (
	CodeTransportTimeout = -1001
	CodeTransportError   = -1002
	CodeUnknown          = -1
)

// APIError is a structured exchange failure: either a JSON error body
// ({"code": ..., "msg": ...}) or a transport failure mapped to a
// synthetic code.
type APIError struct {
	Code       int
	Message    string
	HTTPStatus int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: code %d: %s", e.Code, e.Message)
}

// AsAPIError unwraps err to an *APIError if one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// ErrorCode returns the exchange code in err, or 0 when err carries none.
func ErrorCode(err error) int {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Code
	}
	return 0
}
