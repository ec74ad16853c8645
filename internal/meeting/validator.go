// Package meeting answers "does meeting X exist and is it active?".
//
// Meetings are owned and mutated by the external meeting-management service;
// the relay only reads their status through this boundary.
package meeting

import "context"

// Validator reports whether a meeting exists and is currently active.
//
// Implementations must be safe for concurrent use; the coordinator issues a
// lookup for every join request.
type Validator interface {
	IsActive(ctx context.Context, meetingID string) (bool, error)
}

// StaticValidator answers every lookup with a fixed result. It backs dev
// deployments without a meeting service, and tests.
type StaticValidator struct {
	Active bool
}

func (v StaticValidator) IsActive(ctx context.Context, meetingID string) (bool, error) {
	return v.Active, nil
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, meetingID string) (bool, error)

func (f ValidatorFunc) IsActive(ctx context.Context, meetingID string) (bool, error) {
	return f(ctx, meetingID)
}
