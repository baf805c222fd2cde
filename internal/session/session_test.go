package session

import (
	"sync"
	"testing"

	"github.com/Iskam31/YADISKTGBOT/internal/pathtoken"
)

func TestStore_AcquireCreates(t *testing.T) {
	st := NewStore()

	sess := st.Acquire(42)
	sess.Release()

	if st.Count() != 1 {
		t.Errorf("Count = %d, want 1", st.Count())
	}

	// Second acquire returns the same session.
	again := st.Acquire(42)
	again.Release()
	if sess != again {
		t.Error("Acquire returned a different session for the same user")
	}
	if st.Count() != 1 {
		t.Errorf("Count after reacquire = %d, want 1", st.Count())
	}
}

func TestSession_PendingLastWriterWins(t *testing.T) {
	st := NewStore()
	sess := st.Acquire(1)
	defer sess.Release()

	sess.SetPending(Pending{Kind: PendingUploadTarget, Path: "/first"})
	sess.SetPending(Pending{Kind: PendingDeleteConfirm, Path: "/second"})

	p := sess.Pending()
	if p.Kind != PendingDeleteConfirm || p.Path != "/second" {
		t.Errorf("pending = %+v, want delete-confirm for /second", p)
	}

	sess.ClearPending()
	if sess.Pending().Kind != PendingNone {
		t.Errorf("pending after clear = %+v, want none", sess.Pending())
	}
}

func TestSession_SetPathsReplacesWholesale(t *testing.T) {
	st := NewStore()
	sess := st.Acquire(1)
	defer sess.Release()

	first := pathtoken.Table{}
	first.Register("/old/path")
	sess.SetPaths(first)

	second := pathtoken.Table{}
	second.Register("/new/path")
	sess.SetPaths(second)

	table := sess.Paths()
	if _, ok := table.Resolve(pathtoken.Table{}.Register("/old/path")); ok {
		t.Error("old mapping survived a wholesale replacement")
	}
	if _, ok := table.Resolve(pathtoken.Table{}.Register("/new/path")); !ok {
		t.Error("new mapping missing after replacement")
	}
}

func TestStore_ResetDropsState(t *testing.T) {
	st := NewStore()

	sess := st.Acquire(7)
	table := pathtoken.Table{}
	table.Register("/somewhere")
	sess.SetPaths(table)
	sess.SetPending(Pending{Kind: PendingUploadTarget, Path: "/somewhere"})
	sess.Release()

	st.Reset(7)
	if st.Count() != 0 {
		t.Errorf("Count after reset = %d, want 0", st.Count())
	}

	fresh := st.Acquire(7)
	defer fresh.Release()
	if fresh.Paths() != nil {
		t.Error("path table survived a reset")
	}
	if fresh.Pending().Kind != PendingNone {
		t.Error("pending action survived a reset")
	}
}

func TestStore_AcquireSerializesPerUser(t *testing.T) {
	st := NewStore()

	const workers = 8
	const iterations = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				sess := st.Acquire(99)
				counter++
				sess.Release()
			}
		}()
	}
	wg.Wait()

	if counter != workers*iterations {
		t.Errorf("counter = %d, want %d (lost updates without serialization)", counter, workers*iterations)
	}
}
