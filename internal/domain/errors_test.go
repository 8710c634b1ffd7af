package domain

import (
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	if !IsVersionConflict(ErrVersionConflict) {
		t.Error("expected bare sentinel to match")
	}
	if !IsVersionConflict(fmt.Errorf("save order: %w", ErrVersionConflict)) {
		t.Error("expected wrapped sentinel to match")
	}
	if IsVersionConflict(ErrOrderNotFound) {
		t.Error("unrelated error must not match")
	}
	if IsVersionConflict(nil) {
		t.Error("nil must not match")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(ErrOrderNotFound) {
		t.Error("order not found must match")
	}
	if !IsNotFound(fmt.Errorf("confirm: %w", ErrIntentNotFound)) {
		t.Error("wrapped intent not found must match")
	}
	if IsNotFound(ErrVersionConflict) {
		t.Error("conflict must not match")
	}
}

func TestIsPermissionDenied(t *testing.T) {
	wrapped := fmt.Errorf("%w: role packer may not move order packed -> shipped", ErrPermissionDenied)
	if !IsPermissionDenied(wrapped) {
		t.Error("wrapped permission denied must match")
	}
	if IsPermissionDenied(ErrInvalidTransition) {
		t.Error("invalid transition must not match")
	}
}
