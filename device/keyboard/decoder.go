// Package keyboard decodes PS/2 scancode set 1 byte streams into key events
// and translates them to characters using the US 104-key layout.
package keyboard

import "wallyos/kernel"

const (
	// DataPort is the I/O port of the PS/2 controller data register.
	DataPort = 0x60

	extendedPrefix = 0xe0
	pausePrefix    = 0xe1
	breakBit       = 0x80
)

// ErrUnknownKeyCode is returned when a byte sequence does not map to any
// known key. The decoder resets itself so that following sequences decode
// normally.
var ErrUnknownKeyCode = &kernel.Error{Module: "keyboard", Message: "unknown key code"}

// KeyState describes whether a key was pressed or released.
type KeyState uint8

// The supported key states.
const (
	KeyDown KeyState = iota
	KeyUp
)

// Event is generated by the decoder once a complete scancode sequence has
// been received.
type Event struct {
	Code  KeyCode
	State KeyState
}

// DecodedKey is the result of processing an Event. Keys that map to a
// character have IsRune set and Rune populated; the remaining keys are
// reported by their KeyCode.
type DecodedKey struct {
	IsRune bool
	Rune   byte
	Code   KeyCode
}

type decodeState uint8

const (
	stateStart decodeState = iota
	stateExtended

	// Pause is the only key using the 0xe1 prefix. Each of its two
	// halves is the prefix followed by two bytes that are discarded.
	statePause1
	statePause2
)

type modifiers struct {
	leftShift  bool
	rightShift bool
	leftCtrl   bool
	rightCtrl  bool
	alt        bool
	capsLock   bool
	numLock    bool
}

func (m *modifiers) shifted() bool {
	return m.leftShift || m.rightShift
}

// Decoder assembles scancode set 1 bytes into key events and tracks the
// modifier state. Its zero value is not ready for use; call NewDecoder.
type Decoder struct {
	state decodeState
	mods  modifiers
}

// NewDecoder returns a decoder with num lock enabled.
func NewDecoder() Decoder {
	return Decoder{mods: modifiers{numLock: true}}
}

// AddByte feeds a single byte read from the keyboard controller to the
// decoder. It returns true together with an Event when b completes a
// scancode sequence. Bytes that start a multi-byte sequence return false
// with no error, as do all bytes of the Pause key sequence.
func (d *Decoder) AddByte(b uint8) (Event, bool, *kernel.Error) {
	switch {
	case d.state == statePause1:
		d.state = statePause2
		return Event{}, false, nil
	case d.state == statePause2:
		d.state = stateStart
		return Event{}, false, nil
	case b == extendedPrefix:
		d.state = stateExtended
		return Event{}, false, nil
	case b == pausePrefix:
		d.state = statePause1
		return Event{}, false, nil
	}

	code := KeyCode(b &^ breakBit)
	if d.state == stateExtended {
		code |= extendedBit
		d.state = stateStart
	}

	if !code.isKnown() {
		return Event{}, false, ErrUnknownKeyCode
	}

	ev := Event{Code: code, State: KeyDown}
	if b&breakBit != 0 {
		ev.State = KeyUp
	}

	return ev, true, nil
}

// ProcessEvent updates the modifier state and translates ev into a key. It
// returns false for key releases and modifier keys.
func (d *Decoder) ProcessEvent(ev Event) (DecodedKey, bool) {
	down := ev.State == KeyDown

	switch ev.Code {
	case KeyLeftShift:
		d.mods.leftShift = down
		return DecodedKey{}, false
	case KeyRightShift:
		d.mods.rightShift = down
		return DecodedKey{}, false
	case KeyLeftControl:
		d.mods.leftCtrl = down
		return DecodedKey{}, false
	case KeyRightControl:
		d.mods.rightCtrl = down
		return DecodedKey{}, false
	case KeyLeftAlt, KeyRightAlt:
		d.mods.alt = down
		return DecodedKey{}, false
	case KeyCapsLock:
		if down {
			d.mods.capsLock = !d.mods.capsLock
		}
		return DecodedKey{}, false
	case KeyNumLock:
		if down {
			d.mods.numLock = !d.mods.numLock
		}
		return DecodedKey{}, false
	}

	if !down {
		return DecodedKey{}, false
	}

	for _, np := range numpad {
		if np.code != ev.Code {
			continue
		}

		if d.mods.numLock {
			return DecodedKey{IsRune: true, Rune: np.ch, Code: ev.Code}, true
		}
		if np.nav == KeyUnknown {
			return DecodedKey{}, false
		}
		return DecodedKey{Code: np.nav}, true
	}

	switch ev.Code {
	case KeyPadEnter:
		return DecodedKey{IsRune: true, Rune: '\n', Code: ev.Code}, true
	case KeyPadSlash:
		return DecodedKey{IsRune: true, Rune: '/', Code: ev.Code}, true
	case KeyDelete:
		return DecodedKey{IsRune: true, Rune: 0x7f, Code: ev.Code}, true
	}

	if int(ev.Code) < len(us104) {
		if chars := us104[ev.Code]; chars[0] != 0 {
			shift := d.mods.shifted()
			if isLetter(chars[0]) && d.mods.capsLock {
				shift = !shift
			}

			ch := chars[0]
			if shift {
				ch = chars[1]
			}
			return DecodedKey{IsRune: true, Rune: ch, Code: ev.Code}, true
		}
	}

	return DecodedKey{Code: ev.Code}, true
}

func isLetter(ch byte) bool {
	return ch >= 'a' && ch <= 'z'
}
