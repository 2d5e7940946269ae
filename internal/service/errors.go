package service

import "errors"

var (
	// ErrNotFound means the checkout or product does not exist upstream.
	ErrNotFound = errors.New("not found")
	// ErrValidation means the input or the checkout can never be recorded as a vote.
	ErrValidation = errors.New("validation failed")
	// ErrUpstream means the collaborator failed or broke its response contract.
	ErrUpstream = errors.New("upstream error")
)

// errNotYetPaid is internal; callers see accepted=false instead.
var errNotYetPaid = errors.New("checkout not yet paid")
