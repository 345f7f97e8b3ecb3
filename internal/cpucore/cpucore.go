// Package cpucore defines the contract between the NSF memory subsystem
// and an external 6502 CPU core. The CPU itself — stepping, registers,
// reset — is intentionally out of scope for this module; only
// the interface the subsystem drives and is driven through lives here.
package cpucore

// Bus is implemented by the memory subsystem and consumed by a CPU
// core: every CPU bus cycle calls back into Read or Write.
type Bus interface {
	Read(addr uint16) uint8
	Write(addr uint16, value uint8)
}

// Core is implemented by an external 6502 CPU core. Reset performs the
// processor's power-up/reset sequence (reading the reset vector from
// its bus). Step executes exactly one instruction and returns the
// number of cycles it took. PC returns the current program counter.
type Core interface {
	Reset()
	Step() uint64
	PC() uint16
}
