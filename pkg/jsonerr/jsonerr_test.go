package jsonerr

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestErrorWritesJSONBody(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, &Response{Code: "not-found", Message: "crate absent"}, 404)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected X-Content-Type-Options: nosniff")
	}

	var body Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Code != "not-found" || body.Message != "crate absent" {
		t.Fatalf("body = %+v", body)
	}
}

func TestErrorOmitsAdditionalWhenNil(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, &Response{Code: "internal", Message: "boom"}, 500)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if _, ok := raw["additional"]; ok {
		t.Fatalf("additional field should be omitted when nil, body: %s", rec.Body.String())
	}
}

func TestErrorIncludesAdditionalWhenSet(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, &Response{Code: "bad-request", Message: "bad range", Additional: map[string]any{"start": 10, "end": 5}}, 400)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if _, ok := raw["additional"]; !ok {
		t.Fatalf("additional field should be present, body: %s", rec.Body.String())
	}
}
