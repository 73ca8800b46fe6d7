package state

import (
	"testing"
	"time"
)

func TestUpsertAndSnapshot(t *testing.T) {
	tbl := NewTable()
	tbl.Upsert("c1", "ada", true)
	tbl.Upsert("c2", "lin", false)

	snap := tbl.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d", len(snap))
	}
	if !snap["c1"].Host || snap["c2"].Host {
		t.Errorf("host flags wrong: %+v", snap)
	}
	if snap["c1"].TrackIndex != -1 {
		t.Errorf("fresh participant track index = %d, want -1", snap["c1"].TrackIndex)
	}

	tbl.SetTrackIndex("c2", 4)
	if got := tbl.Snapshot()["c2"].TrackIndex; got != 4 {
		t.Errorf("track index = %d, want 4", got)
	}

	// Re-upserting must not reset the observed track index.
	tbl.Upsert("c2", "lin", false)
	if got := tbl.Snapshot()["c2"].TrackIndex; got != 4 {
		t.Errorf("upsert reset track index to %d", got)
	}
}

func TestPruneStale(t *testing.T) {
	tbl := NewTable()
	tbl.Upsert("old", "o", false)
	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now()
	tbl.Upsert("fresh", "f", false)

	tbl.PruneStale(cutoff)

	snap := tbl.Snapshot()
	if _, ok := snap["old"]; ok {
		t.Error("stale participant survived prune")
	}
	if _, ok := snap["fresh"]; !ok {
		t.Error("fresh participant pruned")
	}
}

func TestSubscribeEvents(t *testing.T) {
	tbl := NewTable()
	ch := tbl.Subscribe()
	defer tbl.Unsubscribe(ch)

	tbl.Upsert("c1", "ada", false)
	evt := <-ch
	if evt.Type != "join" || evt.ClientID != "c1" {
		t.Fatalf("first event = %+v", evt)
	}

	tbl.Upsert("c1", "ada", false)
	evt = <-ch
	if evt.Type != "update" {
		t.Fatalf("second event = %+v", evt)
	}

	tbl.Remove("c1")
	evt = <-ch
	if evt.Type != "leave" || evt.ClientID != "c1" {
		t.Fatalf("third event = %+v", evt)
	}
}
