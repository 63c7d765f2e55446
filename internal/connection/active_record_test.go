package connection

import "testing"

func TestActiveSetGetOrCreate(t *testing.T) {
	set := NewActiveSet()
	r1, created1 := set.GetOrCreate(10)
	if !created1 {
		t.Fatal("expected first GetOrCreate to create a new record")
	}
	r2, created2 := set.GetOrCreate(10)
	if created2 {
		t.Error("expected second GetOrCreate for same handle to reuse the record")
	}
	if r1 != r2 {
		t.Error("expected same record instance returned for the same handle")
	}
}

func TestActiveSetExistsAndRemove(t *testing.T) {
	set := NewActiveSet()
	if set.Exists(10) {
		t.Fatal("did not expect record to exist before creation")
	}
	set.GetOrCreate(10)
	if !set.Exists(10) {
		t.Error("expected record to exist after creation")
	}
	set.Remove(10)
	if set.Exists(10) {
		t.Error("expected record removed")
	}
}

func TestActiveSetHandles(t *testing.T) {
	set := NewActiveSet()
	set.GetOrCreate(1)
	set.GetOrCreate(2)
	handles := set.Handles()
	if len(handles) != 2 {
		t.Fatalf("expected 2 handles, got %v", handles)
	}
}

func TestActiveRecordAddRemoveOwner(t *testing.T) {
	record := newActiveRecord(5)
	c1 := &EventConnection{}
	c2 := &EventConnection{}

	record.addOwner(c1)
	record.addOwner(c2)
	if record.ownerCount() != 2 {
		t.Fatalf("expected 2 owners, got %d", record.ownerCount())
	}
	if !record.hasOwner(c1) {
		t.Error("expected c1 to be recognized as an owner")
	}

	if empty := record.removeOwner(c1); empty {
		t.Error("did not expect record to report empty with one owner left")
	}
	if empty := record.removeOwner(c2); !empty {
		t.Error("expected record to report empty once last owner removed")
	}
}

func TestActiveSetConnectionCountForUnknownHandleIsZero(t *testing.T) {
	set := NewActiveSet()
	if got := set.ConnectionCount(99); got != 0 {
		t.Errorf("expected 0 for unknown handle, got %d", got)
	}
}

func TestActiveSetConnectionCountTracksOwners(t *testing.T) {
	set := NewActiveSet()
	record, _ := set.GetOrCreate(7)
	c1 := &EventConnection{}
	record.addOwner(c1)
	if got := set.ConnectionCount(7); got != 1 {
		t.Errorf("expected connection count 1, got %d", got)
	}
}

func TestActiveRecordPendingFlushFIFO(t *testing.T) {
	record := newActiveRecord(3)
	c1 := &EventConnection{}
	c2 := &EventConnection{}
	c3 := &EventConnection{}

	record.pushPendingFlush(c1)
	record.pushPendingFlush(c2)
	record.pushPendingFlush(c3)

	got, ok := record.PopPendingFlush()
	if !ok || got != c1 {
		t.Fatalf("expected c1 popped first, got %v ok=%v", got, ok)
	}
	got, ok = record.PopPendingFlush()
	if !ok || got != c2 {
		t.Fatalf("expected c2 popped second, got %v ok=%v", got, ok)
	}
}

func TestActiveRecordPopPendingFlushEmpty(t *testing.T) {
	record := newActiveRecord(3)
	if _, ok := record.PopPendingFlush(); ok {
		t.Error("expected no pending flush entries on a fresh record")
	}
}

func TestActiveRecordRemoveOwnerClearsPendingFlush(t *testing.T) {
	record := newActiveRecord(3)
	c1 := &EventConnection{}
	c2 := &EventConnection{}
	record.addOwner(c1)
	record.addOwner(c2)
	record.pushPendingFlush(c1)
	record.pushPendingFlush(c2)

	record.RemoveOwnerPublic(c1)

	got, ok := record.PopPendingFlush()
	if !ok || got != c2 {
		t.Fatalf("expected c1's pending-flush entry removed, leaving c2 first; got %v ok=%v", got, ok)
	}
}
