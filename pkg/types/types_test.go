package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestStatus_JSON(t *testing.T) {
	for _, s := range Statuses {
		b, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", s, err)
		}
		var got Status
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", b, err)
		}
		if got != s {
			t.Errorf("round trip: got %v, want %v", got, s)
		}
	}
}

func TestStatus_InvalidRejected(t *testing.T) {
	if _, err := json.Marshal(Status(7)); err == nil {
		t.Error("Marshal(Status(7)): expected error")
	}
	var s Status
	if err := json.Unmarshal([]byte(`"maybe"`), &s); err == nil {
		t.Error(`Unmarshal("maybe"): expected error`)
	}
}

func TestStatus_Severity(t *testing.T) {
	cases := map[Status]int{StatusPass: 0, StatusWarn: 1, StatusFail: 2}
	for s, want := range cases {
		if got := s.Severity(); got != want {
			t.Errorf("%v.Severity(): got %d, want %d", s, got, want)
		}
	}
}

func TestParseStatus_CaseInsensitive(t *testing.T) {
	s, err := ParseStatus(" FAIL ")
	if err != nil || s != StatusFail {
		t.Errorf("ParseStatus: got (%v, %v), want (fail, nil)", s, err)
	}
}

func TestValidationError_Is(t *testing.T) {
	ve := &ValidationError{}
	ve.Add("items[0].testTypeId", "unknown test type")
	ve.UnknownTestType = true

	var err error = ve
	if !errors.Is(err, ErrValidation) {
		t.Error("errors.Is(ErrValidation): got false")
	}
	if !errors.Is(err, ErrUnknownTestType) {
		t.Error("errors.Is(ErrUnknownTestType): got false")
	}
	if errors.Is(Invalid("x", "y"), ErrUnknownTestType) {
		t.Error("plain validation error matched ErrUnknownTestType")
	}
	if !errors.Is(ErrUnknownTestType, ErrValidation) {
		t.Error("ErrUnknownTestType should wrap ErrValidation")
	}
}

func TestValidationError_ErrEmpty(t *testing.T) {
	if err := (&ValidationError{}).Err(); err != nil {
		t.Errorf("Err on empty: got %v, want nil", err)
	}
}

func TestStorageError(t *testing.T) {
	cause := errors.New("disk full")
	err := StorageError("commit batch", cause)
	if !errors.Is(err, ErrStorage) || !errors.Is(err, cause) {
		t.Errorf("StorageError: %v should match ErrStorage and its cause", err)
	}
	if StorageError("x", nil) != nil {
		t.Error("StorageError(nil): expected nil")
	}
}

func TestOutcomeResponse_NeverNilCreated(t *testing.T) {
	r := BatchOutcome{}.Response(true)
	if r.Created == nil || !r.SkippedAsDuplicate {
		t.Errorf("Response: got %+v", r)
	}
}
