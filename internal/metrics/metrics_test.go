package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Reset collectors for testing purposes.
	claimsTotal = nil
	resultsTotal = nil
	httpRequestsTotal = nil
	httpRequestDurationSeconds = nil

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if claimsTotal == nil || resultsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveClaim("fetch", "claimed")
	if val := testutil.ToFloat64(claimsTotal); val != 1 {
		t.Errorf("Expected claimsTotal to be 1, got %f", val)
	}
}

func TestAssignmentGauge(t *testing.T) {
	Init()

	before := testutil.ToFloat64(inflightAssignments)
	AssignmentStarted()
	if got := testutil.ToFloat64(inflightAssignments); got != before+1 {
		t.Errorf("Expected inflight gauge %f, got %f", before+1, got)
	}
	AssignmentResolved("fetch", 250*time.Millisecond)
	if got := testutil.ToFloat64(inflightAssignments); got != before {
		t.Errorf("Expected inflight gauge %f, got %f", before, got)
	}
}

func TestObserveFetchBytesIgnoresNonPositive(t *testing.T) {
	Init()

	before := testutil.ToFloat64(fetchBytesTotal)
	ObserveFetchBytes(0)
	ObserveFetchBytes(-5)
	if got := testutil.ToFloat64(fetchBytesTotal); got != before {
		t.Errorf("Expected fetchBytesTotal unchanged at %f, got %f", before, got)
	}
	ObserveFetchBytes(1024)
	if got := testutil.ToFloat64(fetchBytesTotal); got != before+1024 {
		t.Errorf("Expected fetchBytesTotal %f, got %f", before+1024, got)
	}
}
