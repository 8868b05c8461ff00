package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationErrorErr(t *testing.T) {
	var v ValidationError
	if v.Err() != nil {
		t.Error("expected nil error with no fields")
	}

	v.Add("password", "Password must contain at least one number.")
	v.Add("password", "Password must contain at least one special character.")
	err := v.Err()
	if err == nil {
		t.Fatal("expected error after Add")
	}

	var ve *ValidationError
	if !errors.As(fmt.Errorf("register: %w", err), &ve) {
		t.Fatal("expected errors.As to find ValidationError through wrapping")
	}
	if got := len(ve.Fields["password"]); got != 2 {
		t.Errorf("password messages = %d, want 2", got)
	}
}

func TestValidationErrorMessageStable(t *testing.T) {
	v := NewValidationError("username", "taken")
	v.Add("email", "invalid")
	want := "validation failed: email: invalid, username: taken"
	if v.Error() != want {
		t.Errorf("Error() = %q, want %q", v.Error(), want)
	}
}

func TestConflictErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("create user: %w", &ConflictError{Field: "email"})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Error("expected ConflictError to match ErrDuplicateIdentity")
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Field != "email" {
		t.Errorf("expected ConflictError with field email, got %v", ce)
	}
}

func TestGenderValid(t *testing.T) {
	for _, g := range []Gender{GenderMale, GenderFemale, GenderOther} {
		if !g.Valid() {
			t.Errorf("%q should be valid", g)
		}
	}
	if Gender("robot").Valid() {
		t.Error("unexpected valid gender")
	}
}
