package tbucket

import (
	"path/filepath"
	"testing"
)

func newTestClassic(t *testing.T, cfg Config) *Classic {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bucket.db")
	b, err := NewClassic(path, "test", cfg)
	if err != nil {
		t.Fatalf("NewClassic() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestClassic_StartsFull(t *testing.T) {
	b := newTestClassic(t, Config{Rate: 10, Period: 60})
	restore := setClock(&b.clock, fakeClock(0))
	defer restore()

	tokens, _, err := b.Peek()
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if tokens != 10 {
		t.Fatalf("Peek() tokens = %v, want 10", tokens)
	}
}

func TestClassic_ConsumeDrainsThenRefills(t *testing.T) {
	b := newTestClassic(t, Config{Rate: 10, Period: 10})
	clock := fakeClock(0)
	b.clock = clock

	for i := 0; i < 10; i++ {
		success, _, _, err := b.TryConsume(1, 0)
		if err != nil {
			t.Fatalf("TryConsume() error = %v", err)
		}
		if !success {
			t.Fatalf("TryConsume() #%d success = false, want true", i)
		}
	}

	success, tokens, _, err := b.TryConsume(1, 0)
	if err != nil {
		t.Fatalf("TryConsume() error = %v", err)
	}
	if success {
		t.Fatalf("TryConsume() on empty bucket succeeded, tokens = %v", tokens)
	}

	// Half the period elapses: half the rate refills.
	b.clock = fakeClock(5)
	tokens, _, err = b.Peek()
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if tokens != 5 {
		t.Fatalf("Peek() after half refill = %v, want 5", tokens)
	}
}

func TestClassic_TryConsume_RespectsLeave(t *testing.T) {
	b := newTestClassic(t, Config{Rate: 10, Period: 10})
	b.clock = fakeClock(0)

	success, tokens, _, err := b.TryConsume(5, 10)
	if err != nil {
		t.Fatalf("TryConsume() error = %v", err)
	}
	// 10 tokens available, 5 requested: 10 >= 5, but 10 is not > leave(10).
	if success {
		t.Fatalf("TryConsume() succeeded with available tokens equal to leave, tokens = %v", tokens)
	}
}

func TestClassic_TryConsume_InvalidN(t *testing.T) {
	b := newTestClassic(t, Config{Rate: 10, Period: 10})
	_, _, _, err := b.TryConsume(0, 0)
	if err == nil {
		t.Fatal("TryConsume(0, 0) error = nil, want ErrInvalidN")
	}
}

func TestClassic_Set(t *testing.T) {
	b := newTestClassic(t, Config{Rate: 10, Period: 10})
	b.clock = fakeClock(0)

	tokens, _, err := b.Set(3, nil)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if tokens != 3 {
		t.Fatalf("Set() tokens = %v, want 3", tokens)
	}

	tokens, _, err = b.Peek()
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if tokens != 3 {
		t.Fatalf("Peek() after Set() = %v, want 3", tokens)
	}
}

func TestClassic_Set_ClampsToRate(t *testing.T) {
	b := newTestClassic(t, Config{Rate: 10, Period: 10})
	b.clock = fakeClock(0)

	tokens, _, err := b.Set(1000, nil)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if tokens != 10 {
		t.Fatalf("Set() tokens = %v, want clamped to 10", tokens)
	}
}
