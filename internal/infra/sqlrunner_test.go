package infra

import (
	"strings"
	"testing"

	"genserver/internal/sqlinline"
)

func TestExtractMarker(t *testing.T) {
	query := "--sql 8c448032-7c77-4aff-8dc1-e23d95a8cea7\nselect 1;\n"
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker returned error: %v", err)
	}
	if marker != "8c448032-7c77-4aff-8dc1-e23d95a8cea7" {
		t.Fatalf("marker mismatch: %q", marker)
	}
	if strings.Contains(trimmed, "--sql") {
		t.Fatalf("marker line should be stripped, got %q", trimmed)
	}
}

func TestExtractMarkerRejectsUnmarkedQuery(t *testing.T) {
	if _, _, err := extractMarker("select 1;"); err == nil {
		t.Fatal("query without a marker should be rejected")
	}
	if _, _, err := extractMarker("--sql not-a-uuid\nselect 1;"); err == nil {
		t.Fatal("malformed marker should be rejected")
	}
}

func TestInlineStatementsCarryMarkers(t *testing.T) {
	queries := []string{
		sqlinline.QInsertJob,
		sqlinline.QSelectJobByID,
		sqlinline.QSelectJobByProviderTaskID,
		sqlinline.QAdvanceJobStatus,
		sqlinline.QMarkJobAwaiting,
		sqlinline.QFinalizeJobDone,
		sqlinline.QFinalizeJobFailed,
		sqlinline.QSetJobCharged,
		sqlinline.QClaimJobRefund,
		sqlinline.QRecordJobPoll,
		sqlinline.QRequestJobCancel,
		sqlinline.QClaimDueJobs,
		sqlinline.QLedgerReserve,
		sqlinline.QLedgerCommit,
		sqlinline.QLedgerRelease,
		sqlinline.QLedgerRefund,
		sqlinline.QSelectReservationState,
		sqlinline.QSelectBalance,
	}
	seen := make(map[string]string, len(queries))
	for _, q := range queries {
		marker, _, err := extractMarker(q)
		if err != nil {
			t.Fatalf("statement missing marker: %v\n%s", err, q)
		}
		if prev, dup := seen[marker]; dup {
			t.Fatalf("marker %s reused by two statements:\n%s\n%s", marker, prev, q)
		}
		seen[marker] = q
	}
}
