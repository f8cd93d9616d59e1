package api

import (
	"testing"
)

func ptr(f float64) *float64 { return &f }

func TestValidate_CreateSignal(t *testing.T) {
	tests := []struct {
		name  string
		req   CreateSignalRequest
		field string
		want  string
	}{
		{"missing lat", CreateSignalRequest{Lng: ptr(79.8)}, "lat", "is required"},
		{"lat out of range", CreateSignalRequest{Lat: ptr(91), Lng: ptr(79.8)}, "lat", "must be less than or equal to 90"},
		{"lng out of range", CreateSignalRequest{Lat: ptr(6.9), Lng: ptr(-181)}, "lng", "must be greater than or equal to -180"},
		{"bad priority", CreateSignalRequest{Lat: ptr(6.9), Lng: ptr(79.8), Priority: "urgent"}, "priority", "must be one of: low medium high critical"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.req)
			if errs[tt.field] != tt.want {
				t.Errorf("%s error = %q, want %q (all: %v)", tt.field, errs[tt.field], tt.want, errs)
			}
		})
	}

	// Zero is a valid coordinate
	if errs := Validate(CreateSignalRequest{Lat: ptr(0), Lng: ptr(0)}); errs != nil {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidate_UsesJSONNames(t *testing.T) {
	errs := Validate(TransitionRequest{Status: "resolved"})
	if errs["actor_id"] != "is required" {
		t.Errorf("errors = %v, want actor_id required", errs)
	}
}

func TestValidate_NumericBounds(t *testing.T) {
	errs := Validate(UpdateEscalationSettingsRequest{CriticalMinutes: 5, HighMinutes: 15, MediumMinutes: 30, LowMinutes: 2000})
	if errs["low_minutes"] != "must be at most 1440" {
		t.Errorf("low_minutes error = %q", errs["low_minutes"])
	}
	errs = Validate(TransitionRequest{Status: "resolved", ActorID: string(make([]byte, 65))})
	if errs["actor_id"] != "must be at most 64 characters" {
		t.Errorf("actor_id error = %q", errs["actor_id"])
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Name":          "name",
		"EmergencyType": "emergency_type",
		"lower":         "lower",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
