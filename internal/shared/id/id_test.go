package id

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func TestNewRequestIDPrefix(t *testing.T) {
	rid := NewRequestID()
	if !strings.HasPrefix(rid.String(), RequestPrefix+"_") {
		t.Errorf("request id should start with %q, got %s", RequestPrefix+"_", rid)
	}
	if len(rid.String()) != len(RequestPrefix)+1+26 {
		t.Errorf("unexpected id length: %s", rid)
	}
}

func TestIDsSortByCreation(t *testing.T) {
	gen := NewGenerator()
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = gen.GenerateWithPrefix(CheckPrefix)
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("monotonic ids should already be sorted")
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewRequestID().String())
	if err != nil {
		t.Fatalf("Timestamp() error = %v", err)
	}
	if ts.Before(before) {
		t.Errorf("timestamp %v is older than %v", ts, before)
	}

	if _, err := Timestamp("req_not-a-ulid"); err == nil {
		t.Error("expected parse error")
	}
}
