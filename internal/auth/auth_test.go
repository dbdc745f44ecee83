package auth

import (
	"errors"
	"testing"
	"time"
)

func testService(t *testing.T) *Service {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return NewService("test-secret", hash, time.Hour)
}

func TestLoginAndValidate(t *testing.T) {
	svc := testService(t)

	token, err := svc.Login("correct-horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Operator != "operator" {
		t.Errorf("Expected operator claim, got %q", claims.Operator)
	}
	if claims.Issuer != "exit-watchdog" {
		t.Errorf("Expected issuer exit-watchdog, got %q", claims.Issuer)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc := testService(t)
	if _, err := svc.Login("wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc := testService(t)
	if _, err := svc.Validate("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

// TestValidateRejectsForeignSecret verifies a token signed with a different
// secret fails validation.
func TestValidateRejectsForeignSecret(t *testing.T) {
	svc := testService(t)
	token, err := svc.Login("correct-horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hash, _ := HashPassword("correct-horse")
	other := NewService("different-secret", hash, time.Hour)
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken across secrets, got %v", err)
	}
}
