package session

import (
	"encoding/json"
	"testing"
	"time"
)

func TestActivityJSONRoundTrip(t *testing.T) {
	cases := []struct {
		activity Activity
		want     string
	}{
		{Starting, `"starting"`},
		{Thinking, `"thinking"`},
		{ToolUse, `"tool_use"`},
		{Waiting, `"waiting"`},
		{Idle, `"idle"`},
		{Complete, `"complete"`},
		{Errored, `"errored"`},
		{Lost, `"lost"`},
	}

	for _, tc := range cases {
		data, err := json.Marshal(tc.activity)
		if err != nil {
			t.Fatalf("marshal %v: %v", tc.activity, err)
		}
		if string(data) != tc.want {
			t.Errorf("marshal %v = %s, want %s", tc.activity, data, tc.want)
		}

		var back Activity
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != tc.activity {
			t.Errorf("round trip %v -> %v", tc.activity, back)
		}
	}
}

func TestActivityUnknownString(t *testing.T) {
	if got := Activity(99).String(); got != "unknown" {
		t.Errorf("String() = %s, want unknown", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	done := time.Now()
	orig := &State{
		ID:          "s1",
		TokensUsed:  100,
		CompletedAt: &done,
	}

	clone := orig.Clone()
	clone.TokensUsed = 999
	*clone.CompletedAt = done.Add(time.Hour)

	if orig.TokensUsed != 100 {
		t.Errorf("TokensUsed mutated through clone: %d", orig.TokensUsed)
	}
	if !orig.CompletedAt.Equal(done) {
		t.Error("CompletedAt mutated through clone")
	}
}

func TestUpdateUtilization(t *testing.T) {
	s := &State{TokensUsed: 50000, MaxContextTokens: 200000}
	s.UpdateUtilization()
	if s.ContextUtilization != 0.25 {
		t.Errorf("utilization = %f, want 0.25", s.ContextUtilization)
	}

	s.TokensUsed = 300000
	s.UpdateUtilization()
	if s.ContextUtilization != 1.0 {
		t.Errorf("utilization = %f, want capped at 1.0", s.ContextUtilization)
	}

	s = &State{TokensUsed: 100}
	s.UpdateUtilization()
	if s.ContextUtilization != 0 {
		t.Errorf("utilization without max = %f, want 0", s.ContextUtilization)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, a := range []Activity{Complete, Errored, Lost} {
		if !(&State{Activity: a}).IsTerminal() {
			t.Errorf("%v should be terminal", a)
		}
	}
	for _, a := range []Activity{Starting, Thinking, ToolUse, Waiting, Idle} {
		if (&State{Activity: a}).IsTerminal() {
			t.Errorf("%v should not be terminal", a)
		}
	}
}
