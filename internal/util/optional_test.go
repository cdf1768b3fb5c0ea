package util

import (
	"encoding/json"
	"testing"
)

func TestOptionalDistinguishesAbsentFromZero(t *testing.T) {
	var payload struct {
		Description Optional[string] `json:"description"`
		Order       Optional[string] `json:"order"`
	}
	if err := json.Unmarshal([]byte(`{"description":""}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !payload.Description.Set || payload.Description.Value != "" {
		t.Fatalf("explicit empty string must be set: %+v", payload.Description)
	}
	if payload.Order.Set {
		t.Fatalf("absent field must stay unset: %+v", payload.Order)
	}
}

func TestOptionalOr(t *testing.T) {
	if got := Some("7").Or("0"); got != "7" {
		t.Fatalf("Some.Or = %q", got)
	}
	if got := None[string]().Or("0"); got != "0" {
		t.Fatalf("None.Or = %q", got)
	}
}

func TestOptionalMarshalRoundTrip(t *testing.T) {
	data, err := json.Marshal(Some(3))
	if err != nil || string(data) != "3" {
		t.Fatalf("marshal set: %s %v", data, err)
	}
	data, err = json.Marshal(None[int]())
	if err != nil || string(data) != "null" {
		t.Fatalf("marshal unset: %s %v", data, err)
	}
}
