// Package input translates named buttons and chords into the timed byte
// sequences the serial link writes to the device.
package input

import (
	"fmt"
	"strings"
	"time"
)

// Button bit assignments, matching the device's joypad register layout.
const (
	BitEdit  byte = 1 << 0
	BitOpt   byte = 1 << 1
	BitRight byte = 1 << 2
	BitStart byte = 1 << 3
	BitShift byte = 1 << 4
	BitDown  byte = 1 << 5
	BitUp    byte = 1 << 6
	BitLeft  byte = 1 << 7
)

var buttonBits = map[string]byte{
	"edit":  BitEdit,
	"opt":   BitOpt,
	"right": BitRight,
	"start": BitStart,
	"shift": BitShift,
	"down":  BitDown,
	"up":    BitUp,
	"left":  BitLeft,
}

const (
	singlePressHold = 50 * time.Millisecond
	comboStepPause  = 20 * time.Millisecond
)

// Writer is the subset of the serial link the encoder needs: a
// synchronous byte-sequence write.
type Writer interface {
	Write([]byte) error
}

// Sleeper abstracts time.Sleep so tests can run the sequence without
// real delays.
type Sleeper func(time.Duration)

// Encoder turns button names into `0x43 <bitmask>` writes.
type Encoder struct {
	w     Writer
	sleep Sleeper
}

// New returns an encoder that writes through w, sleeping with the real
// clock.
func New(w Writer) *Encoder {
	return &Encoder{w: w, sleep: time.Sleep}
}

// BitFor resolves a key name to its bitmask, or ok=false if unknown.
func BitFor(name string) (byte, bool) {
	b, ok := buttonBits[strings.ToLower(name)]
	return b, ok
}

const cmdButtonState byte = 0x43

// PressKey performs a single-key press: write the bitmask, hold 50ms,
// release to zero.
func (e *Encoder) PressKey(name string) error {
	bit, ok := BitFor(name)
	if !ok {
		return fmt.Errorf("input: unknown key %q", name)
	}
	return e.PressRaw(bit, singlePressHold, true)
}

// PressCombo holds one set of buttons, presses another on top of it,
// then releases both: hold -> wait -> hold|press -> wait(50ms) -> hold ->
// wait(20ms) -> 0x00.
func (e *Encoder) PressCombo(holdNames, pressNames []string) error {
	hold, err := combineBits(holdNames)
	if err != nil {
		return err
	}
	press, err := combineBits(pressNames)
	if err != nil {
		return err
	}

	steps := []struct {
		mask byte
		wait time.Duration
	}{
		{hold, comboStepPause},
		{hold | press, singlePressHold},
		{hold, comboStepPause},
		{0x00, 0},
	}
	for _, s := range steps {
		if err := e.w.Write([]byte{cmdButtonState, s.mask}); err != nil {
			return err
		}
		if s.wait > 0 {
			e.sleep(s.wait)
		}
	}
	return nil
}

// PressRaw writes an explicit bitmask and, if release is true, blocks for
// hold before writing the zero release bitmask. Used by the single-key
// path, where the caller (and the REST response) waits out the full
// sequence.
func (e *Encoder) PressRaw(mask byte, hold time.Duration, release bool) error {
	if err := e.w.Write([]byte{cmdButtonState, mask}); err != nil {
		return err
	}
	if !release {
		return nil
	}
	e.sleep(hold)
	return e.w.Write([]byte{cmdButtonState, 0x00})
}

// PressRawAsync writes an explicit bitmask immediately and, if release is
// true, schedules the zero release bitmask on a background goroutine
// rather than blocking the caller — the shape POST /api/raw needs, since
// its response reports {bitmask, holdMs} without waiting for the hold to
// elapse.
func (e *Encoder) PressRawAsync(mask byte, hold time.Duration, release bool) error {
	if err := e.w.Write([]byte{cmdButtonState, mask}); err != nil {
		return err
	}
	if !release {
		return nil
	}
	go func() {
		e.sleep(hold)
		_ = e.w.Write([]byte{cmdButtonState, 0x00})
	}()
	return nil
}

func combineBits(names []string) (byte, error) {
	var mask byte
	for _, n := range names {
		b, ok := BitFor(n)
		if !ok {
			return 0, fmt.Errorf("input: unknown key %q", n)
		}
		mask |= b
	}
	return mask, nil
}

// Note-on/off framing: `0x4B <note> <velocity>`, `0x4B 0xFF`.
const cmdNote byte = 0x4B

func (e *Encoder) NoteOn(note, velocity byte) error {
	return e.w.Write([]byte{cmdNote, note, velocity})
}

func (e *Encoder) NoteOff() error {
	return e.w.Write([]byte{cmdNote, 0xFF})
}
