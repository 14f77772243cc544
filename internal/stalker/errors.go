package stalker

import "errors"

// ErrInvalidMAC is returned by New before any network call when the supplied
// credential does not survive best-effort reformatting into a valid MAC.
var ErrInvalidMAC = errors.New("invalid MAC address")

// errMalformedEnvelope marks a response body that was not the expected
// {"js": ...} envelope (HTML block page, truncated body, proxy error).
var errMalformedEnvelope = errors.New("response is not a portal envelope")

// TransportError reports a failure to complete a portal exchange: network
// fault, timeout, non-200 status, or a body that was not the expected
// envelope. It is distinct from the portal answering "no" — wrong credential,
// no stream for this channel — which operations report through falsy returns
// so callers can tell "could not reach the portal" from "portal refused".
type TransportError struct {
	Action string
	Err    error
}

func (e *TransportError) Error() string {
	return "stalker: " + e.Action + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }
