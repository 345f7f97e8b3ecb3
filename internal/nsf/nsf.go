// Package nsf exposes the public NSF playback API: reading a header,
// opening a file as a single active instance, driving playback_init and
// playback_frame against the synthesized bootstrap trampoline, and
// closing the instance.
package nsf

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"nsfplay/internal/cpucore"
	"nsfplay/internal/header"
	"nsfplay/internal/membus"
)

// Error kinds surfaced by this package. BadHeader and IoError are
// returned by header.Read and internal/membus respectively.
var (
	ErrInvalidState    = errors.New("nsf: invalid state")
	ErrInvalidArgument = errors.New("nsf: invalid argument")
)

const (
	bootstrapBase = 0x1000
	syncPC        = 0x1007 // the JSR PLAY instruction: frame sync point
	maxSteps      = 1 << 20
)

var (
	registryMu sync.Mutex
	active     *Instance
)

// NewCore constructs a cpucore.Core bound to bus. Callers supply their
// own CPU core implementation; this module never constructs one itself.
type NewCore func(bus cpucore.Bus) cpucore.Core

// Instance is one opened NSF file. At most one Instance may be active
// (opened and not yet closed) at a time; see ErrInvalidState.
type Instance struct {
	path    string
	file    *os.File
	hdr     header.NsfHeader
	bus     *membus.MemoryImage
	newCore NewCore
	core    cpucore.Core
	logger  *log.Logger

	synced bool // true once playback_init has reached the sync point
}

// ReadHeader parses just the 128-byte header of the NSF file at path
// without registering an active instance.
func ReadHeader(path string) (header.NsfHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return header.NsfHeader{}, fmt.Errorf("nsf: open %s: %w", path, err)
	}
	defer f.Close()
	return header.Read(f)
}

// Open opens path, parses its header, and registers the returned
// Instance as the single active instance. newCore constructs the CPU
// core this instance drives; logger, if nil, defaults to log.Default().
//
// Open fails with ErrInvalidState if another instance is already
// active.
func Open(path string, newCore NewCore, logger *log.Logger) (*Instance, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	if newCore == nil {
		return nil, fmt.Errorf("%w: nil core factory", ErrInvalidArgument)
	}
	if logger == nil {
		logger = log.Default()
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if active != nil {
		return nil, fmt.Errorf("%w: an NSF instance is already active", ErrInvalidState)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nsf: open %s: %w", path, err)
	}
	hdr, err := header.Read(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	logger.Printf("nsf: opened %s: %s", path, hdr.LogFields())

	inst := &Instance{
		path:    path,
		file:    f,
		hdr:     hdr,
		bus:     membus.New(logger),
		newCore: newCore,
		logger:  logger,
	}
	active = inst
	return inst, nil
}

// Header returns the parsed NSF header.
func (inst *Instance) Header() *header.NsfHeader {
	return &inst.hdr
}

// PlaybackInit reinitializes the memory image, synthesizes the
// bootstrap trampoline for songIndexZeroBased, loads the ROM
// (contiguous or bankswitched), resets the CPU core, and steps it to
// the synchronization point pc == $1007.
func (inst *Instance) PlaybackInit(songIndexZeroBased int, apuWrite func(addr uint16, value uint8)) error {
	if songIndexZeroBased < 0 || songIndexZeroBased > 0xFF {
		return fmt.Errorf("%w: song index %d out of range", ErrInvalidArgument, songIndexZeroBased)
	}

	inst.bus.Clear()
	inst.bus.PresetAPUFrameCounterMode()
	inst.bus.SetAPUWriteCallback(apuWrite)
	inst.bus.WriteBootstrap(trampoline(uint8(songIndexZeroBased), 0, inst.hdr.InitAddress, inst.hdr.PlayAddress))
	inst.bus.SetResetVector(bootstrapBase)

	var err error
	if inst.hdr.HasBankswitching() {
		inst.logger.Printf("nsf: playback init loading bankswitched ROM from %s", inst.path)
		err = inst.bus.LoadBankswitched(&inst.hdr, inst.file)
	} else {
		inst.logger.Printf("nsf: playback init loading contiguous ROM from %s", inst.path)
		err = inst.bus.LoadContiguous(&inst.hdr, inst.file)
	}
	if err != nil {
		return err
	}

	inst.core = inst.newCore(inst.bus)
	inst.core.Reset()
	inst.synced = false

	if err := inst.runToSync(); err != nil {
		return err
	}
	inst.synced = true
	return nil
}

// PlaybackFrame requires pc == $1007 on entry, then steps
// the core through exactly one PLAY invocation and the JMP back.
func (inst *Instance) PlaybackFrame() error {
	if !inst.synced || inst.core.PC() != syncPC {
		return fmt.Errorf("%w: playback_frame called outside the synchronization point", ErrInvalidState)
	}
	return inst.runToSync()
}

func (inst *Instance) runToSync() error {
	for i := 0; i < maxSteps; i++ {
		inst.core.Step()
		if inst.core.PC() == syncPC {
			return nil
		}
	}
	return fmt.Errorf("%w: CPU core never reached the synchronization point", ErrInvalidState)
}

// Close releases the instance's file handle and, if it is the active
// instance, clears the registry.
func (inst *Instance) Close() error {
	registryMu.Lock()
	if active == inst {
		active = nil
	}
	registryMu.Unlock()

	if inst.file == nil {
		return nil
	}
	err := inst.file.Close()
	inst.file = nil
	return err
}

// trampoline synthesizes the bootstrap program:
//
//	LDA #song ; LDX #palNtsc ; JSR init ; JSR play (sync point) ; JMP back ; NOP×4
func trampoline(song, palNtsc uint8, initAddr, playAddr uint16) []byte {
	prog := make([]byte, 0, 16)
	prog = append(prog, 0xA9, song)
	prog = append(prog, 0xA2, palNtsc)
	prog = append(prog, 0x20, byte(initAddr), byte(initAddr>>8))
	prog = append(prog, 0x20, byte(playAddr), byte(playAddr>>8))
	prog = append(prog, 0x4C, 0x07, 0x10)
	prog = append(prog, 0xEA, 0xEA, 0xEA, 0xEA)
	return prog
}
