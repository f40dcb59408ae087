package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Journal tests ---

func TestAppend_DenseSequence(t *testing.T) {
	s := newTestStore(t)
	for want := int64(1); want <= 5; want++ {
		seq, err := s.Append("LaneActor-L-7", []byte(fmt.Sprintf(`{"n":%d}`, want)))
		if err != nil {
			t.Fatalf("Append #%d: %v", want, err)
		}
		if seq != want {
			t.Fatalf("Append #%d returned seq %d, want %d", want, seq, want)
		}
	}
}

func TestAppend_PerEntityIsolation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Append("LaneActor-L-1", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append("LaneActor-L-1", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	seq, err := s.Append("LaneActor-L-2", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Fatalf("first append for L-2 got seq %d, want 1", seq)
	}
}

func TestReplay_OrderAndFromSeq(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 4; i++ {
		if _, err := s.Append("CrossroadActor-C-1", []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.Replay("CrossroadActor-C-1", 3)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].SeqNr != 3 || records[1].SeqNr != 4 {
		t.Fatalf("got seqs %d,%d, want 3,4", records[0].SeqNr, records[1].SeqNr)
	}
	if string(records[0].Payload) != `{"n":3}` {
		t.Fatalf("payload = %s, want {\"n\":3}", records[0].Payload)
	}
}

func TestTruncate(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 4; i++ {
		if _, err := s.Append("ZoneActor-Z-1", []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Truncate("ZoneActor-Z-1", 2); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	records, err := s.Replay("ZoneActor-Z-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].SeqNr != 3 {
		t.Fatalf("after truncate: %d records starting at %d, want 2 starting at 3", len(records), records[0].SeqNr)
	}

	// Sequence assignment continues past the truncated prefix.
	seq, err := s.Append("ZoneActor-Z-1", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if seq != 5 {
		t.Fatalf("append after truncate got seq %d, want 5", seq)
	}
}

func TestMaxSeq(t *testing.T) {
	s := newTestStore(t)
	seq, err := s.MaxSeq("RoadActor-R-1")
	if err != nil {
		t.Fatal(err)
	}
	if seq != 0 {
		t.Fatalf("empty journal MaxSeq = %d, want 0", seq)
	}
	s.Append("RoadActor-R-1", []byte(`{}`))
	s.Append("RoadActor-R-1", []byte(`{}`))
	seq, err = s.MaxSeq("RoadActor-R-1")
	if err != nil {
		t.Fatal(err)
	}
	if seq != 2 {
		t.Fatalf("MaxSeq = %d, want 2", seq)
	}
}

// --- Snapshot tests ---

func TestSnapshot_LatestAndRotation(t *testing.T) {
	s := newTestStore(t)
	key := "LaneActor-L-7"

	snap, err := s.LatestSnapshot(key)
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Fatal("expected no snapshot for fresh entity")
	}

	now := time.Now().UTC()
	if err := s.SaveSnapshot(key, 50, now, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("SaveSnapshot seq 50: %v", err)
	}
	if err := s.SaveSnapshot(key, 120, now, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("SaveSnapshot seq 120: %v", err)
	}

	snap, err = s.LatestSnapshot(key)
	if err != nil {
		t.Fatal(err)
	}
	if snap.SeqNr != 120 || string(snap.State) != `{"v":2}` {
		t.Fatalf("latest = seq %d state %s, want 120 {\"v\":2}", snap.SeqNr, snap.State)
	}

	// Rotate out the old snapshot; the newest survives.
	if err := s.DeleteSnapshot(key, 50); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	snap, err = s.LatestSnapshot(key)
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil || snap.SeqNr != 120 {
		t.Fatal("newest snapshot should survive rotation")
	}
}

func TestDeleteSnapshot_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteSnapshot("LaneActor-L-7", 999); err != nil {
		t.Fatalf("deleting a missing snapshot should succeed, got %v", err)
	}
}

// --- Outbox tests ---

func TestNextDeliveryID_StrictlyIncreasing(t *testing.T) {
	s := newTestStore(t)
	var last int64
	for i := 0; i < 5; i++ {
		id, err := s.NextDeliveryID("MobileActor-M-1")
		if err != nil {
			t.Fatalf("NextDeliveryID: %v", err)
		}
		if id <= last {
			t.Fatalf("delivery id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestNextDeliveryID_SurvivesConfirm(t *testing.T) {
	s := newTestStore(t)
	sender := "MobileActor-M-2"
	id, _ := s.NextDeliveryID(sender)
	if err := s.PutPending(sender, PendingDelivery{DeliveryID: id, DestID: "L-7", Payload: []byte(`{}`), CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmPending(sender, id); err != nil {
		t.Fatal(err)
	}
	next, _ := s.NextDeliveryID(sender)
	if next <= id {
		t.Fatalf("counter reused id: got %d after confirming %d", next, id)
	}
}

func TestOutbox_PendingLifecycle(t *testing.T) {
	s := newTestStore(t)
	sender := "MobileActor-M-3"
	for i := int64(1); i <= 3; i++ {
		if err := s.PutPending(sender, PendingDelivery{
			DeliveryID: i, DestID: "C-1", Payload: []byte(`{"cmd":"x"}`), CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("PutPending %d: %v", i, err)
		}
	}

	pending, err := s.ListPending(sender)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Fatalf("got %d pending, want 3", len(pending))
	}
	if pending[0].DeliveryID != 1 || pending[2].DeliveryID != 3 {
		t.Fatal("pending deliveries not in ID order")
	}

	if err := s.ConfirmPending(sender, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmPending(sender, 2); err != nil {
		t.Fatalf("double confirm should be idempotent, got %v", err)
	}
	pending, _ = s.ListPending(sender)
	if len(pending) != 2 {
		t.Fatalf("after confirm: %d pending, want 2", len(pending))
	}
}
