package ratelimit

import (
	"strings"
	"testing"
	"time"
)

func TestLimitEnabled(t *testing.T) {
	tests := []struct {
		limit Limit
		want  bool
	}{
		{Limit{}, false},
		{Limit{MaxRequests: 10}, false},
		{Limit{Window: time.Minute}, false},
		{Limit{MaxRequests: 10, Window: time.Minute}, true},
	}
	for _, tt := range tests {
		if got := tt.limit.Enabled(); got != tt.want {
			t.Errorf("%+v.Enabled() = %v, want %v", tt.limit, got, tt.want)
		}
	}
}

func TestLimitValidate(t *testing.T) {
	if err := (Limit{MaxRequests: -1}).Validate(); err == nil {
		t.Error("expected error for negative max_requests")
	}
	if err := (Limit{}).Validate(); err != nil {
		t.Errorf("zero limit should validate: %v", err)
	}
}

func TestCheck(t *testing.T) {
	limit := Limit{MaxRequests: 3, Window: time.Minute}
	if r := Check(2, limit); r.Exceeded {
		t.Error("2/3 should pass")
	}
	r := Check(3, limit)
	if !r.Exceeded || r.Current != 3 || r.Limit != 3 {
		t.Errorf("3/3 = %+v", r)
	}
	if !strings.Contains(r.Reason, "3/3 requests in 1m0s window") {
		t.Errorf("reason = %q", r.Reason)
	}
}

func TestNilLimiterAllows(t *testing.T) {
	l := New(Limit{})
	if l != nil {
		t.Fatal("expected nil limiter for a disabled limit")
	}
	for i := 0; i < 100; i++ {
		if l.Allow("peer").Exceeded {
			t.Fatal("nil limiter must allow")
		}
	}
}

func TestLimiterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(Limit{MaxRequests: 2, Window: time.Minute})
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if l.Allow("a").Exceeded {
			t.Fatalf("request %d should pass", i)
		}
	}
	if !l.Allow("a").Exceeded {
		t.Error("third request in the window should be limited")
	}
	if l.Allow("b").Exceeded {
		t.Error("keys are counted separately")
	}

	now = now.Add(time.Minute)
	if l.Allow("a").Exceeded {
		t.Error("counter should reset when the window expires")
	}
}
