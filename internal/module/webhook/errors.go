package webhook

import "errors"

// Module errors.
var (
	ErrUnverified     = errors.New("webhook signature verification failed")
	ErrMalformedEvent = errors.New("malformed webhook event")
	ErrQueueStopped   = errors.New("webhook dispatcher stopped")
)
