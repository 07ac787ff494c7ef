// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package state

import (
	"sync"
	"testing"
)

func TestLockTableSameIDSameLock(t *testing.T) {
	table := NewSessionLockTable()
	a := table.For("sess-1")
	b := table.For("sess-1")
	if a != b {
		t.Error("same session id returned different locks")
	}
	if table.For("sess-2") == a {
		t.Error("different session ids share a lock")
	}
}

func TestLockTableConcurrentAccess(t *testing.T) {
	table := NewSessionLockTable()
	var wg sync.WaitGroup
	locks := make([]*sync.Mutex, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			locks[i] = table.For("shared")
		}(i)
	}
	wg.Wait()
	for i := 1; i < 50; i++ {
		if locks[i] != locks[0] {
			t.Fatal("concurrent For returned different locks for one id")
		}
	}
}

func TestLockSerializesCriticalSections(t *testing.T) {
	table := NewSessionLockTable()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := table.For("sess-1")
			l.Lock()
			counter++
			l.Unlock()
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}
