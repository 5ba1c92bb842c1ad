package openai

import (
	"errors"
	"testing"
)

func TestRepairJSONObject_PlainJSON(t *testing.T) {
	obj, err := repairJSONObject(`{"client_name": "Acme", "hours": 5}`)
	if err != nil {
		t.Fatalf("repairJSONObject: %v", err)
	}
	if obj["client_name"] != "Acme" {
		t.Fatalf("expected client_name Acme, got %v", obj["client_name"])
	}
}

func TestRepairJSONObject_MarkdownFences(t *testing.T) {
	raw := "```json\n{\"stage\": \"Testing\"}\n```"
	obj, err := repairJSONObject(raw)
	if err != nil {
		t.Fatalf("repairJSONObject: %v", err)
	}
	if obj["stage"] != "Testing" {
		t.Fatalf("expected stage Testing, got %v", obj["stage"])
	}
}

func TestRepairJSONObject_SurroundingProse(t *testing.T) {
	raw := "Here is the answer you asked for:\n{\"ok\": true}\nHope this helps!"
	obj, err := repairJSONObject(raw)
	if err != nil {
		t.Fatalf("repairJSONObject: %v", err)
	}
	if obj["ok"] != true {
		t.Fatalf("expected ok=true, got %v", obj["ok"])
	}
}

func TestRepairJSONObject_NoObject(t *testing.T) {
	if _, err := repairJSONObject("sorry, I cannot do that"); err == nil {
		t.Fatal("expected error for output without a JSON object")
	}
}

func TestIsContextLimitHTTP(t *testing.T) {
	err := &llmHTTPError{StatusCode: 400, Body: `{"error":{"code":"context_length_exceeded"}}`}
	if !isContextLimitHTTP(err) {
		t.Fatal("expected context limit detection on 400 with code")
	}
	if isContextLimitHTTP(&llmHTTPError{StatusCode: 500, Body: "context blah"}) {
		t.Fatal("500s are transient, not context-limit failures")
	}
}

func TestCompletionErrorCode(t *testing.T) {
	err := completionErr(ErrCodeContextLimit, errors.New("too big"))
	if !IsContextLimit(err) {
		t.Fatal("IsContextLimit should match wrapped completion error")
	}
	var ce *CompletionError
	if !errors.As(err, &ce) || ce.Code != ErrCodeContextLimit {
		t.Fatalf("unexpected error shape: %v", err)
	}
}
