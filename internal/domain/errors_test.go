package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIs_MatchesByKind(t *testing.T) {
	err := Errorf(KindNotFound, "memory %s not found", "m-1")

	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected errors.Is to match on kind regardless of message")
	}
	if errors.Is(err, ErrDuplicateID) {
		t.Fatal("expected no match against a different kind")
	}
}

func TestErrorIs_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", NewError(KindSecretDetected, "aws access key"))

	if !errors.Is(err, ErrSecretDetected) {
		t.Fatal("expected wrapped error to still match its sentinel")
	}
}

func TestErrorAs_ExtractsKindAndMessage(t *testing.T) {
	err := fmt.Errorf("ingest: %w", Errorf(KindEmptyContent, "content is blank"))

	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatal("expected errors.As to find the domain error")
	}
	if derr.Kind != KindEmptyContent {
		t.Fatalf("expected kind EmptyContent, got %s", derr.Kind)
	}
	if derr.Message != "content is blank" {
		t.Fatalf("expected original message, got %q", derr.Message)
	}
}

func TestErrorString(t *testing.T) {
	err := Errorf(KindInvalidField, "confidence must be in [0,1], got %g", 1.5)

	want := "InvalidField: confidence must be in [0,1], got 1.5"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestWithDetail(t *testing.T) {
	err := NewError(KindInvalidField, "bad category").
		WithDetail("field", "category").
		WithDetail("value", "bogus")

	if err.Details["field"] != "category" {
		t.Fatalf("expected field detail, got %v", err.Details)
	}
	if err.Details["value"] != "bogus" {
		t.Fatalf("expected value detail, got %v", err.Details)
	}

	plain := NewError(KindInternal, "boom")
	if plain.Details != nil {
		t.Fatalf("expected no details by default, got %v", plain.Details)
	}
}
