package recur

import "errors"

var (
	ErrEventNotFound    = errors.New("event not found")
	ErrNotAnOccurrence  = errors.New("date is not an occurrence of the event")
	ErrScopeUnavailable = errors.New("scope is not available for a non-recurring event")
	ErrInvalidScope     = errors.New("invalid scope")
)
