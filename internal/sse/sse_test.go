package sse

import (
	"io"
	"strings"
	"testing"
)

func TestParseSplitChunks(t *testing.T) {
	// Scenario: two byte chunks "data: par" and "tial\ndata: data\n\n" should
	// yield one event with data = "partial\ndata".
	input := io.MultiReader(strings.NewReader("data: par"), strings.NewReader("tial\ndata: data\n\n"))

	var events []Event
	if err := Parse(input, func(e Event) {
		events = append(events, e)
	}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d: %+v", len(events), events)
	}
	if got, want := events[0].Data, "partial\ndata"; got != want {
		t.Errorf("data = %q, want %q", got, want)
	}
}

func TestParseCommentsAndFields(t *testing.T) {
	input := ": this is a comment\n" +
		"event: message\n" +
		"data: hello\n" +
		"id: 1\n" +
		"retry: 500\n" +
		"\n"

	var events []Event
	if err := Parse(strings.NewReader(input), func(e Event) {
		events = append(events, e)
	}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Event != "message" || ev.Data != "hello" || ev.ID != "1" || ev.Retry != 500 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseEndOfInputEmitsPending(t *testing.T) {
	input := "data: trailing"

	var events []Event
	if err := Parse(strings.NewReader(input), func(e Event) {
		events = append(events, e)
	}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 || events[0].Data != "trailing" {
		t.Fatalf("expected one trailing event, got %+v", events)
	}
}

func TestParseUnparseableRetryIgnored(t *testing.T) {
	input := "data: x\nretry: notanumber\n\n"

	var events []Event
	if err := Parse(strings.NewReader(input), func(e Event) {
		events = append(events, e)
	}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 || events[0].Retry != 0 {
		t.Fatalf("expected retry to be silently ignored, got %+v", events)
	}
}

func TestParseMultipleEvents(t *testing.T) {
	input := "data: one\n\ndata: two\n\n"

	var events []Event
	if err := Parse(strings.NewReader(input), func(e Event) {
		events = append(events, e)
	}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 2 || events[0].Data != "one" || events[1].Data != "two" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
