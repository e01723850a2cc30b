package api

import "errors"

var (
	ErrNotFound    = errors.New("topic not found")
	ErrBadRequest  = errors.New("request rejected by hub")
	ErrRateLimited = errors.New("rate limited by hub")
	ErrAuthFailed  = errors.New("authentication failed")
)
