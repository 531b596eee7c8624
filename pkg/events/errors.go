package events

import "errors"

// ErrStoreClosed is returned by Append once Close has run.
var ErrStoreClosed = errors.New("events: store closed")
