package pulselog

import "errors"

// Failure classes reported by sources. All of them are handled the same way
// by the scheduler (the failing source's columns are filled with [Sentinel]
// for that tick); they only differ in the diagnostic line and metric label.
//
// Sources wrap them with fmt.Errorf so the cause stays readable:
//
//	return nil, fmt.Errorf("%w: status code %d", pulselog.ErrTransport, code)
var (
	// ErrTransport covers connection failures, timeouts and non-2xx responses.
	ErrTransport = errors.New("transport error")

	// ErrProtocol covers non-zero application error codes and malformed bodies.
	ErrProtocol = errors.New("protocol error")

	// ErrDataShape covers missing, reordered or insufficient data points.
	ErrDataShape = errors.New("data shape error")

	// ErrAuth covers failed session acquisition.
	ErrAuth = errors.New("auth error")
)

// ErrorKind returns a short, stable name for the failure class of err:
// "transport", "protocol", "data_shape", "auth" or "unknown".
// It is used as a log attribute and as a metric label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrDataShape):
		return "data_shape"
	default:
		return "unknown"
	}
}
