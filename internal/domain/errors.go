package domain

import "errors"

// Error taxonomy shared by all three components. Handlers map these onto
// HTTP statuses; the gateway relays them as acknowledgement errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("not the resource owner")
	ErrNoCapacity    = errors.New("no worker available")
	ErrUpstream      = errors.New("upstream request failed")
	ErrBadDirection  = errors.New("direction must be send or recv")
	ErrAlreadyJoined = errors.New("already joined a room")
	ErrNotJoined     = errors.New("not joined to a room")
	ErrEngine        = errors.New("media engine rejected the operation")
)
