package authorization

import (
	"context"
	"errors"
)

// Service decides whether an actor holding a role may perform an action.
type Service interface {
	Authorize(ctx context.Context, actorID string, role string, object string, action string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
