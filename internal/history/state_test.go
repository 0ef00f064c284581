package history

import (
	"errors"
	"math/rand"
	"testing"
)

func TestState_RoundTrip(t *testing.T) {
	p, err := NewPool(4, 3)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	rng := rand.New(rand.NewSource(31))
	for k := 0; k < 500; k++ {
		p.Update(rng.Intn(3), uint64(rng.Intn(2)))
	}

	restored, err := RestorePool(p.State())
	if err != nil {
		t.Fatalf("RestorePool: %v", err)
	}

	for i := 0; i < 3; i++ {
		ph, _ := p.History(i, 1<<20)
		rh, _ := restored.History(i, 1<<20)
		if FormatBits(ph) != FormatBits(rh) {
			t.Fatalf("buffer %d history diverges after restore", i)
		}
		pt, _ := p.Totals(i)
		rt, _ := restored.Totals(i)
		if pt != rt {
			t.Fatalf("buffer %d totals diverge: %+v vs %+v", i, pt, rt)
		}
	}

	// Restored pools keep evolving identically.
	for k := 0; k < 100; k++ {
		bit := uint64(rng.Intn(2))
		p.Update(1, bit)
		restored.Update(1, bit)
	}
	ph, _ := p.History(1, 1<<20)
	rh, _ := restored.History(1, 1<<20)
	if FormatBits(ph) != FormatBits(rh) {
		t.Fatal("histories diverge after post-restore updates")
	}
}

func TestRestorePool_Validation(t *testing.T) {
	p, _ := NewPool(3, 2)
	good := p.State()

	bad := good
	bad.Words = good.Words[:3]
	if _, err := RestorePool(bad); !errors.Is(err, ErrInvalidState) {
		t.Errorf("short words: expected ErrInvalidState, got %v", err)
	}

	bad = good
	bad.Boundaries = append([]uint8{}, 0, 0, 0, 0, 0)
	if _, err := RestorePool(bad); !errors.Is(err, ErrInvalidState) {
		t.Errorf("bad boundaries: expected ErrInvalidState, got %v", err)
	}

	bad = good
	bad.Updates = nil
	if _, err := RestorePool(bad); !errors.Is(err, ErrInvalidState) {
		t.Errorf("missing updates: expected ErrInvalidState, got %v", err)
	}

	bad = good
	bad.Policy = "nonsense"
	if _, err := RestorePool(bad); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("bad policy: expected ErrUnknownPolicy, got %v", err)
	}

	bad = good
	bad.StoreCount = 0
	if _, err := RestorePool(bad); !errors.Is(err, ErrInvalidStoreCount) {
		t.Errorf("bad store count: expected ErrInvalidStoreCount, got %v", err)
	}
}
