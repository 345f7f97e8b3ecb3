// Package bankcache implements the ten-slot LRU cache of 4 KiB ROM
// banks that backs the eight CPU-visible ROM windows of a bankswitched
// NSF file.
package bankcache

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

const (
	// SlotCount is the fixed number of 4 KiB bank slots held in RAM at
	// once (40 KiB total).
	SlotCount = 10
	// BankSize is the size in bytes of one ROM bank / cache slot.
	BankSize = 4096
	// WindowCount is the number of CPU-visible 4 KiB ROM windows at
	// $8000-$FFFF.
	WindowCount = 8
	// fileBodyOffset is the byte offset of ROM data within an NSF file.
	fileBodyOffset = 0x80
)

// ErrInvalidArgument is returned for out-of-range window indices.
var ErrInvalidArgument = errors.New("bankcache: invalid argument")

// ErrIoError wraps a non-EOF read failure.
var ErrIoError = errors.New("bankcache: io error")

// ErrCacheInvariant indicates an internal invariant violation — the LRU
// tail should have been empty but wasn't.
var ErrCacheInvariant = errors.New("bankcache: invariant violation")

// WindowRef is a (slot index, validity) tuple: no raw pointers or slice
// aliases into cache storage ever escape the cache, so invariants P3/P4
// are directly checkable by comparing small integers.
type WindowRef struct {
	Slot  int
	Valid bool
}

// BankCache is the ten-slot LRU cache of 4 KiB ROM banks read on demand
// from an NSF file.
type BankCache struct {
	source  io.ReaderAt
	padding uint16 // header.LoadAddress & 0x0FFF
	logger  *log.Logger

	storage    [SlotCount][BankSize]byte
	slotBankID [SlotCount]int16 // -1 = empty slot
	useOrder   [SlotCount]int16 // MRU-to-LRU bank ids, -1 trailing
	windows    [WindowCount]WindowRef
}

// New creates an empty bank cache reading bank data from source.
// padding is header.LoadAddress & 0x0FFF, computed once by the caller.
// A nil logger defaults to log.Default().
func New(source io.ReaderAt, padding uint16, logger *log.Logger) *BankCache {
	if logger == nil {
		logger = log.Default()
	}
	c := &BankCache{source: source, padding: padding, logger: logger}
	for i := range c.slotBankID {
		c.slotBankID[i] = -1
		c.useOrder[i] = -1
	}
	return c
}

// Window returns the current mapping for CPU window index idx (0..7).
func (c *BankCache) Window(idx int) WindowRef {
	if idx < 0 || idx >= WindowCount {
		return WindowRef{}
	}
	return c.windows[idx]
}

// ReadByte reads one byte at slot-relative offset from the bank
// currently mapped into window idx, and marks that bank
// most-recently-used. ok is false if the window is unmapped.
func (c *BankCache) ReadByte(idx int, offset uint16) (value uint8, ok bool) {
	ref := c.Window(idx)
	if !ref.Valid {
		return 0, false
	}
	value = c.storage[ref.Slot][offset]
	c.MarkUsed(uint8(c.slotBankID[ref.Slot]))
	return value, true
}

// Load maps CPU window windowIndex (0..7) to bankID, loading the bank
// from the backing file if it is not already cached, evicting the
// least-recently-used bank if the cache is full.
func (c *BankCache) Load(windowIndex int, bankID uint8) error {
	if windowIndex < 0 || windowIndex >= WindowCount {
		return fmt.Errorf("%w: window index %d out of range", ErrInvalidArgument, windowIndex)
	}

	if slot := c.findSlot(bankID); slot >= 0 {
		c.windows[windowIndex] = WindowRef{Slot: slot, Valid: true}
		c.MarkUsed(bankID)
		return nil
	}

	// The window is about to be replaced; clear it up front so that a
	// failed load below leaves it unmapped (reads return 0 with a
	// logged error) rather than stale.
	c.windows[windowIndex] = WindowRef{}

	slot := c.findEmptySlot()
	if slot < 0 {
		evicted, err := c.evictLRU()
		if err != nil {
			return err
		}
		slot = evicted
	}

	c.storage[slot] = [BankSize]byte{}
	if err := c.loadBankBytes(slot, bankID); err != nil {
		return err
	}

	c.slotBankID[slot] = int16(bankID)
	c.windows[windowIndex] = WindowRef{Slot: slot, Valid: true}
	c.MarkUsed(bankID)
	return nil
}

// findSlot returns the slot index currently holding bankID, or -1.
func (c *BankCache) findSlot(bankID uint8) int {
	for i, b := range c.slotBankID {
		if b == int16(bankID) {
			return i
		}
	}
	return -1
}

func (c *BankCache) findEmptySlot() int {
	for i, b := range c.slotBankID {
		if b == -1 {
			return i
		}
	}
	return -1
}

// lastOccupied returns the index of the last non-empty entry of
// useOrder, or -1 if useOrder is entirely empty.
func (c *BankCache) lastOccupied() int {
	last := -1
	for i, b := range c.useOrder {
		if b != -1 {
			last = i
		}
	}
	return last
}

// evictLRU evicts the bank at the tail of useOrder and returns the slot
// it occupied.
func (c *BankCache) evictLRU() (int, error) {
	last := c.lastOccupied()
	if last < 0 {
		return 0, fmt.Errorf("%w: LRU list should not have an empty tail", ErrCacheInvariant)
	}
	oldest := c.useOrder[last]

	slot := c.findSlot(uint8(oldest))
	if slot < 0 {
		return 0, fmt.Errorf("%w: bank %d tracked in use order but not in any slot", ErrCacheInvariant, oldest)
	}

	c.logger.Printf("bankcache: evicting bank %d from slot %d", oldest, slot)

	// Shift the tail out of useOrder, writing a trailing -1.
	for i := last; i < SlotCount-1; i++ {
		c.useOrder[i] = c.useOrder[i+1]
	}
	c.useOrder[SlotCount-1] = -1

	c.slotBankID[slot] = -1

	// Clear every window still referencing the evicted slot, not just
	// the first found.
	for i := range c.windows {
		if c.windows[i].Valid && c.windows[i].Slot == slot {
			c.windows[i] = WindowRef{}
		}
	}

	return slot, nil
}

// loadBankBytes fills storage[slot] from the backing file, computing
// the bank's file offset from its padding-adjusted position.
func (c *BankCache) loadBankBytes(slot int, bankID uint8) error {
	var off int64
	var want int
	var dst []byte

	if bankID == 0 {
		off = fileBodyOffset
		want = BankSize - int(c.padding)
		dst = c.storage[slot][c.padding:]
	} else {
		off = fileBodyOffset + int64(BankSize-int(c.padding)) + int64(BankSize)*int64(bankID-1)
		want = BankSize
		dst = c.storage[slot][:]
	}

	start := time.Now()
	n, err := c.source.ReadAt(dst[:want], off)
	elapsed := time.Since(start)
	c.logger.Printf("bankcache: loaded bank %d from offset %d in %s", bankID, off, elapsed)

	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: bank %d at offset %d: %v", ErrIoError, bankID, off, err)
	}
	if n == 0 && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: zero-byte read for bank %d at offset %d", ErrIoError, bankID, off)
	}
	if n < want {
		c.logger.Printf("bankcache: short read for bank %d: got %d of %d bytes (EOF)", bankID, n, want)
	}
	return nil
}

// MarkUsed records bankID as the most-recently-used bank. A bank not yet
// tracked in the LRU list is inserted at the front — this is the normal
// path for a fresh load (Load commits slotBankID before calling MarkUsed),
// not an error, and is not logged. The insert is only performed when the
// LRU tail is empty; a non-empty tail means a bank was touched without
// first being evicted to make room, which is a genuine cache invariant
// violation and is logged loudly. Callers are expected to evict before
// inserting; that fallback path is never relied on for correctness.
func (c *BankCache) MarkUsed(bankID uint8) {
	b := int16(bankID)

	if c.useOrder[0] == b {
		return
	}

	for i := 1; i < SlotCount; i++ {
		if c.useOrder[i] == b {
			for j := i; j > 0; j-- {
				c.useOrder[j] = c.useOrder[j-1]
			}
			c.useOrder[0] = b
			return
		}
	}

	if c.useOrder[SlotCount-1] != -1 {
		c.logger.Printf("bankcache: %v: bank %d touched with a full LRU collection tail", ErrCacheInvariant, bankID)
		return
	}

	for i := SlotCount - 1; i > 0; i-- {
		c.useOrder[i] = c.useOrder[i-1]
	}
	c.useOrder[0] = b
}
