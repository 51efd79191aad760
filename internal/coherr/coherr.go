// Package coherr carries the error taxonomy of the Secure9P namespace
// (spec §7): every fallible operation ultimately reduces to one of these
// tags before it reaches a console acknowledgement or an Rerror reply.
// Nothing in this package panics; panics are reserved for capability/CSpace
// consistency failures, which live in roottask.
package coherr

import (
	"errors"
	"fmt"
)

// Tag is one of the fixed error reasons a client can observe.
type Tag string

const (
	EINVAL     Tag = "EINVAL"
	EPERM      Tag = "EPERM"
	ENOENT     Tag = "ENOENT"
	ELIMIT     Tag = "ELIMIT"
	EBUSY      Tag = "EBUSY"
	ECUT       Tag = "ECUT"
	ETIMEDOUT  Tag = "ETIMEDOUT"
	EINTERNAL  Tag = "EINTERNAL"
)

// Error pairs a Tag with an optional human-readable detail. It is the
// only error type that crosses from providers/session/console into a
// wire-visible reply.
//
// Reason overrides Tag only in the wire-visible rendering (console
// FormatErr, spec §4.7/§8): some refusals name their cause directly
// ("outstanding-leases", "policy") rather than through the closed Tag
// vocabulary, while still classifying under Tag for generic dispatch
// that switches on it.
type Error struct {
	Tag    Tag
	Reason string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Tag)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Detail)
}

// New builds an *Error with the given tag and optional formatted detail.
func New(tag Tag, format string, arg ...interface{}) *Error {
	d := ""
	if format != "" {
		d = fmt.Sprintf(format, arg...)
	}
	return &Error{Tag: tag, Detail: d}
}

// NewReason builds an *Error whose wire-visible reason is the given
// string rather than tag's own name, keeping tag as the underlying
// classification.
func NewReason(tag Tag, reason, format string, arg ...interface{}) *Error {
	d := ""
	if format != "" {
		d = fmt.Sprintf(format, arg...)
	}
	return &Error{Tag: tag, Reason: reason, Detail: d}
}

// ReasonOf returns the wire-visible reason for err: its explicit Reason
// if set, otherwise its Tag.
func ReasonOf(err error) string {
	if e, ok := As(err); ok && e.Reason != "" {
		return e.Reason
	}
	return string(TagOf(err))
}

// As extracts a *Error from err or from any error it wraps, returning
// ok=false for plain errors (which are always reported as EINTERNAL by
// callers).
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// TagOf returns the tag an error should be reported under, defaulting to
// EINTERNAL for errors that did not originate as a coherr.Error.
func TagOf(err error) Tag {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Tag
	}
	return EINTERNAL
}
