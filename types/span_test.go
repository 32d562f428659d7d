package types

import (
	"testing"
	"time"
)

func TestUsage_Add(t *testing.T) {
	t.Parallel()

	u := Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150, Cost: 0.01}
	u.Add(Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Cost: 0.002})

	if u.PromptTokens != 110 || u.CompletionTokens != 55 || u.TotalTokens != 165 {
		t.Fatalf("unexpected token totals: %+v", u)
	}
	if u.Cost < 0.0119 || u.Cost > 0.0121 {
		t.Fatalf("unexpected cost: %f", u.Cost)
	}
}

func TestSpan_IsError(t *testing.T) {
	t.Parallel()

	s := &Span{ID: "s1", Status: StatusError, StartTime: time.Now()}
	if !s.IsError() {
		t.Fatalf("expected error status to report IsError")
	}
	s.Status = StatusTimeout
	if s.IsError() {
		t.Fatalf("timeout must not count as error")
	}
}
