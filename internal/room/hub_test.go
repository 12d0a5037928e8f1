package room

import (
	"context"
	"testing"
	"time"
)

func TestHub_AcceptReusesRoom(t *testing.T) {
	ctx := context.Background()
	h := NewHub(NewMemoryStore(), time.Minute)

	r1 := h.Accept(ctx, "abc", newFakePeer())
	r2 := h.Accept(ctx, "abc", newFakePeer())
	r3 := h.Accept(ctx, "xyz", newFakePeer())

	if r1 != r2 {
		t.Fatal("same room id must map to one instance")
	}
	if r1 == r3 {
		t.Fatal("different room ids must not share an instance")
	}
	if info := r1.Info(); info.Members != 2 {
		t.Fatalf("Members = %d", info.Members)
	}

	rooms := h.Rooms()
	if len(rooms) != 2 || rooms[0].ID != "abc" || rooms[1].ID != "xyz" {
		t.Fatalf("Rooms = %#v", rooms)
	}
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	ctx := context.Background()
	h := NewHub(NewMemoryStore(), time.Minute)

	a, b := newFakePeer(), newFakePeer()
	ra := h.Accept(ctx, "one", a)
	h.Accept(ctx, "two", b)

	ra.OnMessage(ctx, a.handle, []byte(`{"type":"joined"}`))
	if got := b.messages(t); len(got) != 0 {
		t.Fatalf("message leaked across rooms: %#v", got)
	}
}

func TestHub_SweepDropsOnlyIdleEmptyRooms(t *testing.T) {
	ctx := context.Background()
	h := NewHub(NewMemoryStore(), time.Minute)

	busy := newFakePeer()
	h.Accept(ctx, "busy", busy)

	empty := newFakePeer()
	r := h.Accept(ctx, "empty", empty)
	r.OnClose(ctx, empty.handle)

	if n := h.Sweep(time.Now()); n != 0 {
		t.Fatalf("swept %d rooms before ttl", n)
	}
	if n := h.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("swept %d rooms, want 1", n)
	}
	if _, ok := h.Lookup("empty"); ok {
		t.Fatal("idle room still resident")
	}
	if _, ok := h.Lookup("busy"); !ok {
		t.Fatal("busy room was swept")
	}
}

func TestHub_EvictClosesSockets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := NewHub(store, time.Minute)

	a, b := newFakePeer(), newFakePeer()
	r := h.Accept(ctx, "abc", a)
	h.Accept(ctx, "abc", b)
	r.OnMessage(ctx, a.handle, []byte(`{"type":"joined"}`))
	b.reset()

	if !h.Evict(ctx, "abc") {
		t.Fatal("Evict returned false")
	}
	if h.Evict(ctx, "abc") {
		t.Fatal("second Evict returned true")
	}
	if a.closed != 1 || b.closed != 1 {
		t.Fatalf("closed a=%d b=%d", a.closed, b.closed)
	}
	if got := b.messages(t); len(got) != 0 {
		t.Fatalf("eviction must not broadcast: %#v", got)
	}
	if stored, _ := store.Load(ctx, "abc"); len(stored) != 0 {
		t.Fatalf("attachments survived eviction: %#v", stored)
	}

	// Late close from the read pump of an evicted socket is harmless.
	r.OnClose(ctx, a.handle)
}

func TestHub_ActivateRestoresLiveSockets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := newFakePeer()
	if err := store.Save(ctx, "abc", a.handle, attachmentFor("persisted-id")); err != nil {
		t.Fatal(err)
	}

	h := NewHub(store, time.Minute)
	r := h.Activate(ctx, "abc", []Peer{a})

	b := newFakePeer()
	h.Accept(ctx, "abc", b)
	r.OnMessage(ctx, a.handle, []byte(`{"type":"joined"}`))

	got := b.messages(t)
	if len(got) != 1 || got[0]["id"] != "persisted-id" {
		t.Fatalf("B got %#v", got)
	}
}

func TestHub_ActivateSurvivesStoreFailure(t *testing.T) {
	ctx := context.Background()
	h := NewHub(failingStore{NewMemoryStore()}, time.Minute)

	a := newFakePeer()
	r := h.Activate(ctx, "abc", []Peer{a})
	if info := r.Info(); info.Members != 1 || info.Identified != 0 {
		t.Fatalf("info = %+v", info)
	}
}

func TestHub_RunStopsOnCancel(t *testing.T) {
	h := NewHub(NewMemoryStore(), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	h.Activate(ctx, "idle", nil)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := h.Lookup("idle"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("idle room never swept")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
