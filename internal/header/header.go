// Package header decodes the 128-byte NSF file header into a typed record.
package header

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Size is the fixed length of an NSF header in bytes.
const Size = 128

var magic = [5]byte{'N', 'E', 'S', 'M', 0x1A}

// ErrBadHeader indicates a short read or a magic-number mismatch.
var ErrBadHeader = errors.New("nsf: bad header")

// NsfHeader is the decoded, immutable representation of an NSF header.
type NsfHeader struct {
	Version         uint8
	TotalSongs      uint8
	StartingSong    uint8 // 1-based, as stored in the file
	LoadAddress     uint16
	InitAddress     uint16
	PlayAddress     uint16
	Name            string
	Artist          string
	Copyright       string
	PlaySpeedNTSC   uint16 // microseconds per play call, advisory
	BankswitchInit  [8]uint8
	PlaySpeedPAL    uint16
	PalNtscBits     uint8
	ExtraSoundChips uint8
	Extra           [4]uint8
}

// rawHeader mirrors the 128-byte on-disk layout exactly so it can be
// decoded in one binary.Read, the same idiom cartridge.LoadFromReader
// uses for the (differently shaped) iNES header.
type rawHeader struct {
	Magic           [5]byte
	Version         uint8
	TotalSongs      uint8
	StartingSong    uint8
	LoadAddress     uint16
	InitAddress     uint16
	PlayAddress     uint16
	Name            [32]byte
	Artist          [32]byte
	Copyright       [32]byte
	PlaySpeedNTSC   uint16
	BankswitchInit  [8]uint8
	PlaySpeedPAL    uint16
	PalNtscBits     uint8
	ExtraSoundChips uint8
	Extra           [4]uint8
}

// Read decodes a 128-byte NSF header from r, which must yield exactly
// Size bytes from its current position. It fails with ErrBadHeader if
// the read is short or the magic bytes don't match "NESM\x1A".
func Read(r io.Reader) (NsfHeader, error) {
	var raw rawHeader
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return NsfHeader{}, fmt.Errorf("%w: short header: %v", ErrBadHeader, err)
		}
		return NsfHeader{}, fmt.Errorf("nsf: header read: %w", err)
	}
	if raw.Magic != magic {
		return NsfHeader{}, fmt.Errorf("%w: magic mismatch, got %x", ErrBadHeader, raw.Magic)
	}

	return NsfHeader{
		Version:         raw.Version,
		TotalSongs:      raw.TotalSongs,
		StartingSong:    raw.StartingSong,
		LoadAddress:     raw.LoadAddress,
		InitAddress:     raw.InitAddress,
		PlayAddress:     raw.PlayAddress,
		Name:            truncateString(raw.Name[:]),
		Artist:          truncateString(raw.Artist[:]),
		Copyright:       truncateString(raw.Copyright[:]),
		PlaySpeedNTSC:   raw.PlaySpeedNTSC,
		BankswitchInit:  raw.BankswitchInit,
		PlaySpeedPAL:    raw.PlaySpeedPAL,
		PalNtscBits:     raw.PalNtscBits,
		ExtraSoundChips: raw.ExtraSoundChips,
		Extra:           raw.Extra,
	}, nil
}

// truncateString cuts a fixed-size NUL-padded field at the first NUL
// and hard-truncates to 31 printable characters, guaranteeing a
// terminator regardless of file contents.
func truncateString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	if len(field) > 31 {
		field = field[:31]
	}
	return string(field)
}

// HasBankswitching reports whether the header requests bankswitched ROM
// loading (any non-zero entry in BankswitchInit).
func (h *NsfHeader) HasBankswitching() bool {
	for _, b := range h.BankswitchInit {
		if b != 0 {
			return true
		}
	}
	return false
}

// IsPAL reports the header's PAL bit (bit 0).
func (h *NsfHeader) IsPAL() bool {
	return h.PalNtscBits&0x01 != 0
}

// IsDualPalNtsc reports the header's dual PAL/NTSC bit (bit 1).
func (h *NsfHeader) IsDualPalNtsc() bool {
	return h.PalNtscBits&0x02 != 0
}

// extraSoundChipNames names the bits of ExtraSoundChips in order
// (bit0..bit5), matching the original ESP32 player's header-dump log line.
var extraSoundChipNames = [6]string{"VRC6", "VRC7", "FDS", "MMC5", "N163", "S5B"}

// LogFields renders the header fields, including the decoded PAL/NTSC
// and expansion-chip bits, for a one-line diagnostic on open.
// BankswitchInit is shown only as a bankswitched true/false flag, and
// the four Extra bytes are not included. The
// original ESP32 player logs this on every file open; nothing here is
// load-bearing for playback.
func (h *NsfHeader) LogFields() string {
	region := "NTSC"
	if h.IsDualPalNtsc() {
		region = "NTSC/PAL"
	} else if h.IsPAL() {
		region = "PAL"
	}

	var chips []string
	for i, name := range extraSoundChipNames {
		if h.ExtraSoundChips&(1<<uint(i)) != 0 {
			chips = append(chips, name)
		}
	}

	return fmt.Sprintf(
		"version=%d songs=%d starting=%d load=%#04x init=%#04x play=%#04x "+
			"name=%q artist=%q copyright=%q speed_ntsc=%dus speed_pal=%dus "+
			"region=%s bankswitched=%t extra_chips=%v",
		h.Version, h.TotalSongs, h.StartingSong, h.LoadAddress, h.InitAddress, h.PlayAddress,
		h.Name, h.Artist, h.Copyright, h.PlaySpeedNTSC, h.PlaySpeedPAL,
		region, h.HasBankswitching(), chips,
	)
}
