package bankcache

import (
	"io"
	"testing"
)

// patternSource is a synthetic file body where byte i (relative to
// fileBodyOffset) equals byte(i), used so loaded bank contents can be
// checked precisely against the expected file offsets. Like a real file,
// it reports io.EOF when a read reaches past the end of the body.
type patternSource struct {
	body []byte
}

func newPatternSource(size int) *patternSource {
	body := make([]byte, size)
	for i := range body {
		body[i] = byte(i)
	}
	return &patternSource{body: body}
}

func (p *patternSource) ReadAt(dst []byte, off int64) (int, error) {
	rel := off - fileBodyOffset
	if rel < 0 || int(rel) >= len(p.body) {
		return 0, io.EOF
	}
	n := copy(dst, p.body[rel:])
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}

func newTestCache(t *testing.T) *BankCache {
	t.Helper()
	src := newPatternSource(fileBodyOffset + BankSize*20)
	return New(src, 0, nil)
}

func TestLoad_UniqueBankPerSlot(t *testing.T) {
	c := newTestCache(t)
	for w := 0; w < WindowCount; w++ {
		if err := c.Load(w, uint8(w)); err != nil {
			t.Fatalf("Load(%d, %d): %v", w, w, err)
		}
	}
	seen := map[int16]bool{}
	for _, b := range c.slotBankID {
		if b == -1 {
			continue
		}
		if seen[b] {
			t.Fatalf("bank %d occupies more than one slot", b)
		}
		seen[b] = true
	}
}

func TestLoad_InvalidWindowIndex(t *testing.T) {
	c := newTestCache(t)
	if err := c.Load(-1, 0); err == nil {
		t.Error("expected error for negative window index")
	}
	if err := c.Load(8, 0); err == nil {
		t.Error("expected error for window index 8")
	}
}

func TestUseOrder_ContiguousPrefix(t *testing.T) {
	c := newTestCache(t)
	for w := 0; w < 5; w++ {
		if err := c.Load(w%WindowCount, uint8(w)); err != nil {
			t.Fatalf("Load: %v", err)
		}
	}
	seenEmpty := false
	occupied := 0
	for _, b := range c.useOrder {
		if b == -1 {
			seenEmpty = true
			continue
		}
		if seenEmpty {
			t.Fatal("use_order has an occupied entry after an empty one")
		}
		occupied++
	}
	if occupied != 5 {
		t.Errorf("expected 5 occupied use_order entries, got %d", occupied)
	}
}

func TestWindowConsistency(t *testing.T) {
	c := newTestCache(t)
	if err := c.Load(3, 7); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ref := c.Window(3)
	if !ref.Valid {
		t.Fatal("expected window 3 to be mapped")
	}
	if c.slotBankID[ref.Slot] != 7 {
		t.Errorf("window 3's slot holds bank %d, want 7", c.slotBankID[ref.Slot])
	}
}

func TestEvictionOrder_EvictsExactLRUTail(t *testing.T) {
	c := newTestCache(t)
	// Fill all ten slots: load(0,0) .. load(7,7), load(0,8), load(1,9).
	for w := 0; w < WindowCount; w++ {
		if err := c.Load(w, uint8(w)); err != nil {
			t.Fatalf("Load(%d,%d): %v", w, w, err)
		}
	}
	if err := c.Load(0, 8); err != nil {
		t.Fatalf("Load(0,8): %v", err)
	}
	if err := c.Load(1, 9); err != nil {
		t.Fatalf("Load(1,9): %v", err)
	}
	// Banks 8 and 9 went into the two remaining empty slots, so the cache
	// now holds banks 0-9 in all ten slots; windows 0 and 1 point at 8
	// and 9, but banks 0 and 1 are still cached (nothing was evicted).
	// A further new bank forces the first real eviction.
	if err := c.Load(2, 10); err != nil {
		t.Fatalf("Load(2,10): %v", err)
	}
	if _, ok := c.ReadByte(2, 0); !ok {
		t.Fatal("window 2 should be mapped to bank 10 after load")
	}
	// Bank 0 was the least-recently-used bank (loaded first, never
	// touched again before the eviction), so it must be gone.
	for _, b := range c.slotBankID {
		if b == 0 {
			t.Error("expected bank 0 to have been evicted")
		}
	}
}

func TestTouchReorders_MarkUsedMovesToFront(t *testing.T) {
	c := newTestCache(t)
	for w := 0; w < WindowCount; w++ {
		if err := c.Load(w, uint8(w)); err != nil {
			t.Fatalf("Load(%d,%d): %v", w, w, err)
		}
	}
	if err := c.Load(0, 8); err != nil {
		t.Fatalf("Load(0,8): %v", err)
	}
	if err := c.Load(1, 9); err != nil {
		t.Fatalf("Load(1,9): %v", err)
	}
	// Touch bank 3 via a read through its window before forcing eviction.
	for w, ref := range c.windows {
		if ref.Valid && c.slotBankID[ref.Slot] == 3 {
			if _, ok := c.ReadByte(w, 0); !ok {
				t.Fatal("expected successful read")
			}
		}
	}
	if err := c.Load(2, 10); err != nil {
		t.Fatalf("Load(2,10): %v", err)
	}
	found := false
	for _, b := range c.slotBankID {
		if b == 3 {
			found = true
		}
	}
	if !found {
		t.Error("bank 3 should not have been evicted after being touched")
	}
}

func TestMarkUsed_NoOpWhenAlreadyMRU(t *testing.T) {
	c := newTestCache(t)
	if err := c.Load(0, 5); err != nil {
		t.Fatalf("Load: %v", err)
	}
	before := c.useOrder
	c.MarkUsed(5)
	if before != c.useOrder {
		t.Errorf("MarkUsed on already-MRU bank mutated use_order: before=%v after=%v", before, c.useOrder)
	}
}

func TestOffsetLaw_Bank0UsesPadding(t *testing.T) {
	padding := uint16(0x10)
	src := newPatternSource(fileBodyOffset + BankSize*4)
	c := New(src, padding, nil)
	if err := c.Load(0, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ref := c.Window(0)
	for i := 0; i < int(padding); i++ {
		if c.storage[ref.Slot][i] != 0 {
			t.Fatalf("expected zero padding at offset %d, got %d", i, c.storage[ref.Slot][i])
		}
	}
	want := byte(0) // body[0] under patternSource's byte(i) pattern
	if c.storage[ref.Slot][padding] != want {
		t.Fatalf("bank 0 data at slot offset %d = %d, want %d", padding, c.storage[ref.Slot][padding], want)
	}
}

func TestOffsetLaw_NonZeroBankOffset(t *testing.T) {
	padding := uint16(0x10)
	src := newPatternSource(fileBodyOffset + BankSize*4)
	c := New(src, padding, nil)
	if err := c.Load(0, 2); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ref := c.Window(0)
	// bank 2 starts at file offset 0x80 + (4096-padding) + 4096*(2-1)
	relStart := (BankSize - int(padding)) + BankSize*1
	want := byte(relStart & 0xFF)
	if c.storage[ref.Slot][0] != want {
		t.Fatalf("bank 2 slot[0] = %d, want %d", c.storage[ref.Slot][0], want)
	}
}

func TestLoad_AlreadyCachedBankReusesSlot(t *testing.T) {
	c := newTestCache(t)
	if err := c.Load(0, 4); err != nil {
		t.Fatalf("Load: %v", err)
	}
	firstSlot := c.Window(0).Slot
	if err := c.Load(1, 4); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Window(1).Slot != firstSlot {
		t.Errorf("expected window 1 to reuse slot %d, got %d", firstSlot, c.Window(1).Slot)
	}
}

func TestMarkUsed_MissingBankWithNonEmptyTailRefuses(t *testing.T) {
	c := newTestCache(t)
	for w := 0; w < WindowCount; w++ {
		if err := c.Load(w, uint8(w)); err != nil {
			t.Fatalf("Load(%d,%d): %v", w, w, err)
		}
	}
	if err := c.Load(0, 100); err != nil { // fills slot 8; the next load fills slot 9
		t.Fatalf("Load: %v", err)
	}
	if err := c.Load(1, 101); err != nil {
		t.Fatalf("Load: %v", err)
	}
	before := c.useOrder
	c.MarkUsed(250) // never loaded; tail is non-empty (cache is full)
	if before != c.useOrder {
		t.Error("MarkUsed on an untracked bank with a full cache must refuse, not mutate state")
	}
}
