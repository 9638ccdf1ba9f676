package ctree

import (
	"errors"
	"fmt"
)

var (
	// ErrColliderNotFound is returned when an entity has no registered collider.
	ErrColliderNotFound = errors.New("collider not found")
	// ErrColliderExists is returned when a collider is registered twice.
	ErrColliderExists = errors.New("collider already registered")
	// ErrInvalidAABB is returned for boxes with NaN or inverted extents.
	ErrInvalidAABB = errors.New("invalid aabb")
	// ErrWorldLocked is returned when the world is mutated or stepped from inside a step callback.
	ErrWorldLocked = errors.New("world is locked")
	// ErrProxyIdOverflow is returned when a tree has no proxy id left to issue.
	ErrProxyIdOverflow = errors.New("proxy id out of range")
)

// ColliderError records a failed collider operation.
//
// The sentinel cause can be matched with errors.Is.
type ColliderError struct {
	Op     string
	Entity Entity
	Err    error
}

func (e *ColliderError) Error() string {
	return fmt.Sprintf("%s collider %v: %v", e.Op, e.Entity, e.Err)
}

func (e *ColliderError) Unwrap() error { return e.Err }

func colliderError(op string, entity Entity, err error) error {
	return &ColliderError{Op: op, Entity: entity, Err: err}
}
