// Package audiosink provides a reference APU-write sink: it decodes
// pulse-channel 1 register writes into a continuously regenerated
// square wave and plays it through ebiten's audio backend. It exists to
// give the demo command something audible; it is not part of the
// memory subsystem itself and is never imported by internal/nsf.
package audiosink

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"

	"github.com/hajimehoshi/ebiten/v2/audio"
)

// cpuFrequencyNTSC is the NES CPU clock driving pulse-channel timers.
const cpuFrequencyNTSC = 1789773.0

// Sink adapts raw (addr, value) APU register writes into audible sound.
// Only pulse channel 1 ($4000, $4002, $4003) is wired up; every other
// register write is ignored, since a full five-channel synthesizer is
// out of scope for this module.
type Sink struct {
	ctx    *audio.Context
	player *audio.Player
	stream *squareStream
	logger *log.Logger
}

// New creates a Sink that plays at sampleRate Hz. A nil logger defaults
// to log.Default().
func New(sampleRate int, logger *log.Logger) (*Sink, error) {
	if logger == nil {
		logger = log.Default()
	}
	stream := newSquareStream(sampleRate)
	ctx := audio.NewContext(sampleRate)
	player, err := ctx.NewPlayer(stream)
	if err != nil {
		return nil, fmt.Errorf("audiosink: new player: %w", err)
	}
	player.Play()
	return &Sink{ctx: ctx, player: player, stream: stream, logger: logger}, nil
}

// Write is the APU-write callback: wire it to Instance.PlaybackInit.
func (s *Sink) Write(addr uint16, value uint8) {
	switch addr {
	case 0x4000:
		s.stream.setDuty(value)
	case 0x4002:
		s.stream.setTimerLow(value)
	case 0x4003:
		s.stream.setTimerHigh(value)
	default:
		// Triangle, noise, DMC, and sweep registers are intentionally
		// unhandled by this reference sink.
	}
}

// Close stops playback.
func (s *Sink) Close() error {
	return s.player.Close()
}

const dutyTableSize = 8

// dutyTable holds the NES APU's four duty-cycle waveforms (12.5%, 25%,
// 50%, 75%) as an 8-step high/low sequence.
var dutyTable = [4][dutyTableSize]bool{
	{false, true, false, false, false, false, false, false},
	{false, true, true, false, false, false, false, false},
	{false, true, true, true, true, false, false, false},
	{true, false, false, true, true, true, true, true},
}

// squareStream is an io.Reader generating 16-bit stereo PCM for a
// single pulse channel, the format ebiten's audio.Context expects.
type squareStream struct {
	sampleRate int
	timer      uint16
	duty       uint8

	phase float64
}

func newSquareStream(sampleRate int) *squareStream {
	return &squareStream{sampleRate: sampleRate, duty: 2}
}

func (s *squareStream) setTimerLow(value uint8) {
	s.timer = (s.timer & 0xFF00) | uint16(value)
}

func (s *squareStream) setTimerHigh(value uint8) {
	s.timer = (s.timer & 0x00FF) | (uint16(value&0x07) << 8)
}

func (s *squareStream) setDuty(value uint8) {
	s.duty = (value >> 6) & 0x03
}

// frequency converts the pulse channel's 11-bit timer period into Hz.
func (s *squareStream) frequency() float64 {
	if s.timer < 8 {
		return 0
	}
	return cpuFrequencyNTSC / (16.0 * (float64(s.timer) + 1.0))
}

// Read fills p with interleaved 16-bit little-endian stereo samples.
func (s *squareStream) Read(p []byte) (int, error) {
	const bytesPerFrame = 4 // 2 channels * 2 bytes
	n := len(p) / bytesPerFrame * bytesPerFrame

	freq := s.frequency()
	if freq == 0 {
		for i := 0; i < n; i++ {
			p[i] = 0
		}
		return n, nil
	}

	step := dutyTableSize * freq / float64(s.sampleRate)
	const amplitude = 0.2

	for i := 0; i < n; i += bytesPerFrame {
		idx := int(math.Mod(s.phase, dutyTableSize))
		sample := float64(0)
		if dutyTable[s.duty][idx] {
			sample = amplitude
		}
		v := int16(sample * math.MaxInt16)
		binary.LittleEndian.PutUint16(p[i:], uint16(v))
		binary.LittleEndian.PutUint16(p[i+2:], uint16(v))
		s.phase += step
	}
	return n, nil
}
