package gstoutfilter

import "errors"

var (
	// ErrDestroyed is returned by operations on a destroyed filter.
	ErrDestroyed = errors.New("gstoutfilter: filter destroyed")

	// ErrMissingCollaborator is returned by NewFilter when an Options field
	// is nil.
	ErrMissingCollaborator = errors.New("gstoutfilter: missing host collaborator")

	// ErrNotLoaded is returned by Plugin.CreateFilter before Load.
	ErrNotLoaded = errors.New("gstoutfilter: plugin not loaded")

	// ErrAlreadyLoaded is returned by a second Plugin.Load.
	ErrAlreadyLoaded = errors.New("gstoutfilter: plugin already loaded")
)
