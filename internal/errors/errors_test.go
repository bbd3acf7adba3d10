package errors

import (
	goerrors "errors"
	"testing"
)

func TestInvalidStateError(t *testing.T) {
	err := &InvalidStateError{Operation: "RegisterHost"}
	if err.Error() == "" {
		t.Fatal("expected non-empty message")
	}

	var target *InvalidStateError
	if !goerrors.As(err, &target) {
		t.Fatal("expected errors.As to match *InvalidStateError")
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	cause := goerrors.New("connection refused")
	err := &NetworkError{Operation: "send", Details: "multicast", Err: cause}

	if goerrors.Unwrap(err) != cause {
		t.Fatal("expected Unwrap to return the wrapped cause")
	}

	var target *NetworkError
	if !goerrors.As(err, &target) {
		t.Fatal("expected errors.As to match *NetworkError")
	}
}

func TestWireFormatError(t *testing.T) {
	err := &WireFormatError{Operation: "ParseName", Details: "truncated label"}

	var target *WireFormatError
	if !goerrors.As(err, &target) {
		t.Fatal("expected errors.As to match *WireFormatError")
	}
	if target.Details != "truncated label" {
		t.Errorf("Details = %q, want %q", target.Details, "truncated label")
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "label", Value: "-bad", Details: "hyphen cannot be first or last character"}

	var target *ValidationError
	if !goerrors.As(err, &target) {
		t.Fatal("expected errors.As to match *ValidationError")
	}
}

func TestDuplicateError(t *testing.T) {
	err := &DuplicateError{Name: "myhost.local."}
	if err.Error() == "" {
		t.Fatal("expected non-empty message")
	}
}

func TestNoBufsError(t *testing.T) {
	err := &NoBufsError{Operation: "Send"}
	if err.Error() == "" {
		t.Fatal("expected non-empty message")
	}
}
