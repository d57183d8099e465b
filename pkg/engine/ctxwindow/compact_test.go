package ctxwindow

import (
	"testing"

	"AgentEngine/pkg/engine/convo"
)

func entriesOfUA(n int) []convo.Entry {
	out := make([]convo.Entry, 0, n)
	for i := 0; i < n; i++ {
		kind := convo.EntryUser
		if i%2 == 1 {
			kind = convo.EntryAssistant
		}
		out = append(out, convo.Entry{ID: string(rune('a' + i)), Kind: kind})
	}
	return out
}

func TestTrimTranscriptKeepsLastNUserAssistant(t *testing.T) {
	transcript := entriesOfUA(20)
	trimmed := TrimTranscript(transcript, 10)

	count := 0
	for _, e := range trimmed {
		if e.Kind == convo.EntryUser || e.Kind == convo.EntryAssistant {
			count++
		}
	}
	if count != 10 {
		t.Fatalf("expected 10 kept user/assistant entries, got %d", count)
	}
	// the kept entries must be the most recent ones
	last := transcript[len(transcript)-1]
	if trimmed[len(trimmed)-1].ID != last.ID {
		t.Fatalf("expected most recent entry preserved last, got %q", trimmed[len(trimmed)-1].ID)
	}
}

func TestTrimTranscriptNoopWhenShort(t *testing.T) {
	transcript := entriesOfUA(5)
	trimmed := TrimTranscript(transcript, 10)
	if len(trimmed) != len(transcript) {
		t.Fatalf("expected no trimming when fewer than keepLast entries exist, got %d want %d", len(trimmed), len(transcript))
	}
}

func TestTrimTranscriptDropsPendingReviewsOutsideWindow(t *testing.T) {
	transcript := append([]convo.Entry{
		{ID: "pending", Kind: convo.EntryDiffReview, ReviewStatus: convo.ReviewPending},
		{ID: "accepted", Kind: convo.EntryDiffReview, ReviewStatus: convo.ReviewAccepted},
	}, entriesOfUA(10)...)

	trimmed := TrimTranscript(transcript, 10)

	var sawPending, sawAccepted bool
	for _, e := range trimmed {
		if e.ID == "pending" {
			sawPending = true
		}
		if e.ID == "accepted" {
			sawAccepted = true
		}
	}
	if sawPending {
		t.Fatalf("a pending review entry outside the kept window should be dropped")
	}
	if !sawAccepted {
		t.Fatalf("a resolved review entry outside the kept window should still be kept")
	}
}

func TestExtractJSONObjectTolerantOfProseWrapper(t *testing.T) {
	in := "Sure, here you go:\n```json\n{\"goal\":\"ship it\"}\n```\nDone."
	got := extractJSONObject(in)
	want := `{"goal":"ship it"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractJSONObjectNoBracesReturnsEmptyObject(t *testing.T) {
	if got := extractJSONObject("no json here"); got != "{}" {
		t.Fatalf("got %q, want {}", got)
	}
}
