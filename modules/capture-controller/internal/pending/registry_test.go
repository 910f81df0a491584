package pending

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestAddRejectsDuplicate(t *testing.T) {
	for _, kind := range Kinds {
		t.Run(kind.String(), func(t *testing.T) {
			r := New[string]()

			if !r.Add(kind, "first") {
				t.Fatal("first Add should succeed")
			}
			if r.Add(kind, "second") {
				t.Fatal("second Add should be rejected")
			}
			if r.Len() != 1 {
				t.Fatalf("expected 1 entry, got %d", r.Len())
			}

			v, ok := r.Resolve(kind)
			if !ok || v != "first" {
				t.Fatalf("Resolve = (%q, %v), want (\"first\", true)", v, ok)
			}
		})
	}
}

func TestResolveRemovesOnce(t *testing.T) {
	r := New[int]()
	r.Add(TakePicture, 7)

	if _, ok := r.Resolve(TakePicture); !ok {
		t.Fatal("expected entry")
	}
	if _, ok := r.Resolve(TakePicture); ok {
		t.Fatal("entry resolved twice")
	}
	if r.Has(TakePicture) {
		t.Fatal("entry still present")
	}

	// The slot is free again.
	if !r.Add(TakePicture, 8) {
		t.Fatal("Add after Resolve should succeed")
	}
}

func TestResolveUnknownKind(t *testing.T) {
	r := New[int]()
	if v, ok := r.Resolve(StopRecord); ok || v != 0 {
		t.Fatalf("Resolve on empty registry = (%d, %v)", v, ok)
	}
}

func TestDrainReturnsAllInKindOrder(t *testing.T) {
	r := New[Kind]()
	r.Add(ResumePreview, ResumePreview)
	r.Add(CreateCamera, CreateCamera)
	r.Add(StartRecord, StartRecord)

	got := r.Drain()
	want := []Kind{CreateCamera, StartRecord, ResumePreview}
	if len(got) != len(want) {
		t.Fatalf("Drain returned %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %s, want %s", i, got[i], want[i])
		}
	}
	if r.Len() != 0 {
		t.Errorf("registry not empty after Drain: %d", r.Len())
	}
}

func TestConcurrentAddSameKind(t *testing.T) {
	r := New[int]()

	const goroutines = 64
	var accepted atomic.Int32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			if r.Add(StartRecord, i) {
				accepted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if accepted.Load() != 1 {
		t.Fatalf("expected exactly one accepted Add, got %d", accepted.Load())
	}
	t.Logf("✅ %d concurrent adds, 1 accepted", goroutines)
}
