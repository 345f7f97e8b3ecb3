// Package membus implements the NSF CPU address-space bus: the backing
// storage for RAM, the synthesized bootstrap, the APU register shadow,
// the bank registers and interrupt vectors, and the decode logic that
// routes CPU reads/writes to those regions or into the ROM windows.
package membus

import (
	"errors"
	"fmt"
	"io"
	"log"

	"nsfplay/internal/bankcache"
	"nsfplay/internal/cpucore"
	"nsfplay/internal/header"
)

const (
	ramSize        = 0x0800
	bootstrapBase  = 0x1000
	bootstrapSize  = 0x0080
	apuBase        = 0x4000
	apuSize        = 0x18
	apuStrobeAddr  = 0x4016
	bankRegBase    = 0x5FF8
	bankRegSize    = 0x08
	romBase        = 0x8000
	romEnd         = 0xFFFA // exclusive upper bound of ROM windows
	vecBase        = 0xFFFA
	vecSize        = 0x06
	contiguousSize = 0x8000 // 32 KiB, $8000-$FFFF
)

// ErrInvalidArgument is returned for a load address below $8000.
var ErrInvalidArgument = errors.New("membus: invalid argument")

// ErrIoError wraps a non-EOF contiguous-ROM read failure.
var ErrIoError = errors.New("membus: io error")

// MemoryImage is the synthesized NSF memory map. It implements
// cpucore.Bus.
type MemoryImage struct {
	ram       [ramSize]uint8
	bootstrap [bootstrapSize]uint8
	apuShadow [apuSize]uint8
	bankRegs  [bankRegSize]uint8
	intVecs   [vecSize]uint8

	bankswitched bool
	cache        *bankcache.BankCache
	contiguous   [contiguousSize]uint8

	logger   *log.Logger
	apuWrite func(addr uint16, value uint8)
}

var _ cpucore.Bus = (*MemoryImage)(nil)

// New creates a zeroed MemoryImage. A nil logger defaults to
// log.Default().
func New(logger *log.Logger) *MemoryImage {
	if logger == nil {
		logger = log.Default()
	}
	return &MemoryImage{logger: logger}
}

// Clear resets every region to zero and drops any loaded ROM, the way
// playback_init re-initializes the memory image on every song change.
func (m *MemoryImage) Clear() {
	m.ram = [ramSize]uint8{}
	m.bootstrap = [bootstrapSize]uint8{}
	m.apuShadow = [apuSize]uint8{}
	m.bankRegs = [bankRegSize]uint8{}
	m.intVecs = [vecSize]uint8{}
	m.bankswitched = false
	m.cache = nil
	m.contiguous = [contiguousSize]uint8{}
}

// SetAPUWriteCallback installs the sink invoked on every write to
// $4000-$4017 except $4016.
func (m *MemoryImage) SetAPUWriteCallback(cb func(addr uint16, value uint8)) {
	m.apuWrite = cb
}

// PresetAPUFrameCounterMode sets apu_shadow[$17] = $40 (bit 6, the
// frame IRQ inhibit flag, with the 4-step mode bit 7 clear), the NSF
// convention for the frame counter register before INIT runs for the
// first time.
func (m *MemoryImage) PresetAPUFrameCounterMode() {
	m.apuShadow[0x17] = 0x40
}

// WriteBootstrap copies program into the bootstrap region starting at
// its base ($1000).
func (m *MemoryImage) WriteBootstrap(program []byte) {
	copy(m.bootstrap[:], program)
}

// SetResetVector points the reset vector ($FFFC-$FFFD) at addr.
func (m *MemoryImage) SetResetVector(addr uint16) {
	m.intVecs[2] = uint8(addr)
	m.intVecs[3] = uint8(addr >> 8)
}

// LoadContiguous handles non-bankswitched files: it slurps the ROM
// payload into a single 32 KiB window.
func (m *MemoryImage) LoadContiguous(h *header.NsfHeader, source io.ReaderAt) error {
	if h.LoadAddress < romBase {
		return fmt.Errorf("%w: load address %#04x below $8000", ErrInvalidArgument, h.LoadAddress)
	}

	m.bankswitched = false
	m.cache = nil
	m.contiguous = [contiguousSize]uint8{}

	offset := int(h.LoadAddress - romBase)
	want := 0xFFFF - int(h.LoadAddress)
	if want > contiguousSize-offset {
		want = contiguousSize - offset
	}

	n, err := source.ReadAt(m.contiguous[offset:offset+want], 0x80)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if n == 0 && !errors.Is(err, io.EOF) && want > 0 {
		return fmt.Errorf("%w: zero-byte read of contiguous ROM", ErrIoError)
	}
	if n < want {
		m.logger.Printf("membus: short contiguous ROM read: got %d of %d bytes (EOF)", n, want)
	}
	return nil
}

// LoadBankswitched constructs the bank cache and populates all eight
// windows per the header's initial bank assignment.
func (m *MemoryImage) LoadBankswitched(h *header.NsfHeader, source io.ReaderAt) error {
	m.bankswitched = true
	padding := h.LoadAddress & 0x0FFF
	m.cache = bankcache.New(source, padding, m.logger)

	for i := 0; i < bankcache.WindowCount; i++ {
		bank := h.BankswitchInit[i]
		if err := m.cache.Load(i, bank); err != nil {
			return fmt.Errorf("membus: initial load of window %d (bank %d): %w", i, bank, err)
		}
		m.bankRegs[i] = bank
	}
	return nil
}

// Read decodes addr against the bus's region table.
func (m *MemoryImage) Read(addr uint16) uint8 {
	switch {
	case addr < ramSize:
		return m.ram[addr]

	case addr >= bootstrapBase && addr < bootstrapBase+bootstrapSize:
		return m.bootstrap[addr-bootstrapBase]

	case addr >= apuBase && addr < apuBase+apuSize:
		return m.apuShadow[addr-apuBase]

	case addr >= bankRegBase && addr < bankRegBase+bankRegSize:
		return m.bankRegs[addr-bankRegBase]

	case addr >= romBase && addr < romEnd:
		return m.readROM(addr)

	case addr >= vecBase:
		return m.intVecs[addr-vecBase]

	default:
		return 0
	}
}

func (m *MemoryImage) readROM(addr uint16) uint8 {
	window := int((addr >> 12) & 0x7)
	offset := addr & 0x0FFF

	if !m.bankswitched {
		return m.contiguous[addr-romBase]
	}

	value, ok := m.cache.ReadByte(window, offset)
	if !ok {
		m.logger.Printf("membus: read from unloaded ROM window %d (addr %#04x)", window, addr)
		return 0
	}
	return value
}

// Write decodes addr against the bus's region table. Writes to ROM
// windows and interrupt vectors are silently ignored.
func (m *MemoryImage) Write(addr uint16, value uint8) {
	switch {
	case addr < ramSize:
		m.ram[addr] = value

	case addr >= apuBase && addr < apuBase+apuSize:
		m.apuShadow[addr-apuBase] = value
		if addr != apuStrobeAddr && m.apuWrite != nil {
			m.apuWrite(addr, value)
		}

	case addr >= bankRegBase && addr < bankRegBase+bankRegSize:
		m.writeBankRegister(addr, value)

	default:
		// Bootstrap, ROM windows, interrupt vectors, and anything
		// unmapped: writes are ignored.
	}
}

func (m *MemoryImage) writeBankRegister(addr uint16, value uint8) {
	idx := int(addr - bankRegBase)
	if m.bankRegs[idx] == value {
		return
	}
	m.bankRegs[idx] = value

	if !m.bankswitched {
		// A bank-register write against a contiguous (non-bankswitched)
		// file has nothing to load into; the shadow still updates (it
		// is, after all, just a memory location) but there is no
		// window to remap.
		return
	}

	if err := m.cache.Load(idx, value); err != nil {
		m.logger.Printf("membus: bank load window=%d bank=%d failed: %v", idx, value, err)
	}
}
