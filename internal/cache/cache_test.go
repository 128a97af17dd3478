package cache

import (
	"context"
	"sync"
	"testing"
)

func TestImportedSet_AddContains(t *testing.T) {
	ctx := context.Background()
	set := NewImportedSet(NewMemory(), 7, "issue")

	ok, err := set.Contains(ctx, "42")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Fatal("expected 42 to be absent before Add")
	}

	if err := set.Add(ctx, "42"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Concurrent re-adds of the same id must be idempotent.
	if err := set.Add(ctx, "42"); err != nil {
		t.Fatalf("second Add: %v", err)
	}

	ok, err = set.Contains(ctx, "42")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !ok {
		t.Fatal("expected 42 to be present after Add")
	}
}

func TestImportedSet_DisjointKinds(t *testing.T) {
	ctx := context.Background()
	ks := NewMemory()
	issues := NewImportedSet(ks, 7, "issue")
	notes := NewImportedSet(ks, 7, "note")

	if err := issues.Add(ctx, "1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ok, _ := notes.Contains(ctx, "1")
	if ok {
		t.Fatal("note set must not see issue ids")
	}
}

func TestImportedSet_Clear(t *testing.T) {
	ctx := context.Background()
	set := NewImportedSet(NewMemory(), 7, "issue")
	if err := set.Add(ctx, "1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := set.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	ok, _ := set.Contains(ctx, "1")
	if ok {
		t.Fatal("expected set to be empty after Clear")
	}
}

func TestImportedSet_ConcurrentAdd(t *testing.T) {
	ctx := context.Background()
	set := NewImportedSet(NewMemory(), 7, "issue")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = set.Add(ctx, "same-id")
		}()
	}
	wg.Wait()

	ok, err := set.Contains(ctx, "same-id")
	if err != nil || !ok {
		t.Fatalf("expected membership after concurrent adds, ok=%v err=%v", ok, err)
	}
}

func TestPageCursor_Advance(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		advances []Position
		want     Position
	}{
		{
			name:     "starts empty",
			advances: nil,
			want:     Position{},
		},
		{
			name:     "pages move forward",
			advances: []Position{{Page: 1}, {Page: 2}, {Page: 3}},
			want:     Position{Page: 3},
		},
		{
			name:     "stale page advance is ignored",
			advances: []Position{{Page: 5}, {Page: 2}},
			want:     Position{Page: 5},
		},
		{
			name:     "tokens overwrite",
			advances: []Position{{Token: "aaa"}, {Token: "bbb"}},
			want:     Position{Token: "bbb"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cur := NewPageCursor(NewMemory(), 7, "", "issues")
			for _, pos := range tc.advances {
				if err := cur.Advance(ctx, pos); err != nil {
					t.Fatalf("Advance(%+v): %v", pos, err)
				}
			}
			got, err := cur.Current(ctx)
			if err != nil {
				t.Fatalf("Current: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Current = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestPageCursor_DisjointParents(t *testing.T) {
	ctx := context.Background()
	ks := NewMemory()
	a := NewPageCursor(ks, 7, "pr-1", "comments")
	b := NewPageCursor(ks, 7, "pr-2", "comments")

	if err := a.Advance(ctx, Position{Page: 9}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got, err := b.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("cursor for pr-2 = %+v, want zero", got)
	}
}

func TestIDMap_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewIDMap(NewMemory(), 7, "merge_request")

	_, ok, err := m.Get(ctx, "123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected miss before Set")
	}

	if err := m.Set(ctx, "123", int64(9001)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	id, ok, err := m.Get(ctx, "123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || id != 9001 {
		t.Fatalf("Get = (%d, %v), want (9001, true)", id, ok)
	}
}

func TestIDMap_Clear(t *testing.T) {
	ctx := context.Background()
	ks := NewMemory()
	issues := NewIDMap(ks, 7, "issue")
	notes := NewIDMap(ks, 7, "note")

	if err := issues.Set(ctx, "1", 101); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := issues.Set(ctx, "2", 102); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := notes.Set(ctx, "9", 900); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := issues.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, ext := range []string{"1", "2"} {
		if _, ok, _ := issues.Get(ctx, ext); ok {
			t.Fatalf("issue mapping %s survived Clear", ext)
		}
	}
	// Other models keep their entries.
	if id, ok, _ := notes.Get(ctx, "9"); !ok || id != 900 {
		t.Fatalf("note mapping = (%d, %v), want (900, true)", id, ok)
	}
}

func TestMemory_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	ks := NewMemory()

	if err := ks.Put(ctx, "a/1", "x"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := ks.Put(ctx, "a/2", "y"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := ks.Put(ctx, "b/1", "z"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := ks.SetAdd(ctx, "a/s", "m"); err != nil {
		t.Fatalf("SetAdd: %v", err)
	}

	if err := ks.DeletePrefix(ctx, "a/"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if _, ok, _ := ks.Get(ctx, "a/1"); ok {
		t.Fatal("a/1 survived DeletePrefix")
	}
	if ok, _ := ks.SetContains(ctx, "a/s", "m"); ok {
		t.Fatal("set a/s survived DeletePrefix")
	}
	if v, ok, _ := ks.Get(ctx, "b/1"); !ok || v != "z" {
		t.Fatalf("b/1 = (%q, %v), want (z, true)", v, ok)
	}
}
