package audiosink

import "testing"

func TestSquareStream_TimerBelowEightIsSilent(t *testing.T) {
	s := newSquareStream(44100)
	s.setTimerLow(5)
	if got := s.frequency(); got != 0 {
		t.Fatalf("frequency for timer=5 = %v, want 0 (silent)", got)
	}
}

func TestSquareStream_FrequencyMatchesTimerFormula(t *testing.T) {
	s := newSquareStream(44100)
	s.setTimerLow(0xFE)
	s.setTimerHigh(0x00) // timer = 0x00FE = 254

	got := s.frequency()
	want := cpuFrequencyNTSC / (16.0 * 255.0)
	if got != want {
		t.Fatalf("frequency = %v, want %v", got, want)
	}
}

func TestSquareStream_TimerHighKeepsOnlyLow3Bits(t *testing.T) {
	s := newSquareStream(44100)
	s.setTimerLow(0x00)
	s.setTimerHigh(0xFF) // only bits 0-2 matter: 0x07
	if s.timer != 0x0700 {
		t.Fatalf("timer = %#04x, want 0x0700", s.timer)
	}
}

func TestSquareStream_ReadProducesSilenceWhenMuted(t *testing.T) {
	s := newSquareStream(44100)
	buf := make([]byte, 16)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 16 {
		t.Fatalf("n = %d, want 16", n)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("buf[%d] = %d, want 0 (silent, timer unset)", i, b)
		}
	}
}

func TestSquareStream_SetDuty(t *testing.T) {
	s := newSquareStream(44100)
	s.setDuty(0xC0) // bits 6-7 = 3
	if s.duty != 3 {
		t.Fatalf("duty = %d, want 3", s.duty)
	}
}
