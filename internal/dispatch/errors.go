package dispatch

import "errors"

// ErrAlreadySent is returned by Operation.Send after the response has been sent.
var ErrAlreadySent = errors.New("dispatch: response already sent")
