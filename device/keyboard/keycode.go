package keyboard

// KeyCode identifies a physical key. Keys reported with a single scancode
// byte use that byte (0x01-0x58) as their code; keys reported with the 0xe0
// prefix have the extendedBit set.
type KeyCode uint8

const extendedBit = 0x80

const (
	KeyUnknown      KeyCode = 0x00
	KeyEscape       KeyCode = 0x01
	KeyEnter        KeyCode = 0x1c
	KeyLeftControl  KeyCode = 0x1d
	KeyA            KeyCode = 0x1e
	KeyLeftShift    KeyCode = 0x2a
	KeyRightShift   KeyCode = 0x36
	KeyLeftAlt      KeyCode = 0x38
	KeySpace        KeyCode = 0x39
	KeyCapsLock     KeyCode = 0x3a
	KeyF1           KeyCode = 0x3b
	KeyNumLock      KeyCode = 0x45
	KeyScrollLock   KeyCode = 0x46
	KeyPad7         KeyCode = 0x47
	KeyPad8         KeyCode = 0x48
	KeyPad9         KeyCode = 0x49
	KeyPad4         KeyCode = 0x4b
	KeyPad5         KeyCode = 0x4c
	KeyPad6         KeyCode = 0x4d
	KeyPad1         KeyCode = 0x4f
	KeyPad2         KeyCode = 0x50
	KeyPad3         KeyCode = 0x51
	KeyPad0         KeyCode = 0x52
	KeyPadPeriod    KeyCode = 0x53
	KeyPadEnter     KeyCode = extendedBit | 0x1c
	KeyRightControl KeyCode = extendedBit | 0x1d
	KeyPadSlash     KeyCode = extendedBit | 0x35
	KeyRightAlt     KeyCode = extendedBit | 0x38
	KeyHome         KeyCode = extendedBit | 0x47
	KeyArrowUp      KeyCode = extendedBit | 0x48
	KeyPageUp       KeyCode = extendedBit | 0x49
	KeyArrowLeft    KeyCode = extendedBit | 0x4b
	KeyArrowRight   KeyCode = extendedBit | 0x4d
	KeyEnd          KeyCode = extendedBit | 0x4f
	KeyArrowDown    KeyCode = extendedBit | 0x50
	KeyPageDown     KeyCode = extendedBit | 0x51
	KeyInsert       KeyCode = extendedBit | 0x52
	KeyDelete       KeyCode = extendedBit | 0x53
	KeyLeftWin      KeyCode = extendedBit | 0x5b
	KeyRightWin     KeyCode = extendedBit | 0x5c
	KeyApps         KeyCode = extendedBit | 0x5d
)

// keyNames holds the printable name of each key that has one. Keys missing
// from this table are not produced by the decoder.
var keyNames = [256]string{
	0x01: "Escape", 0x02: "Key1", 0x03: "Key2", 0x04: "Key3", 0x05: "Key4",
	0x06: "Key5", 0x07: "Key6", 0x08: "Key7", 0x09: "Key8", 0x0a: "Key9",
	0x0b: "Key0", 0x0c: "Minus", 0x0d: "Equals", 0x0e: "Backspace", 0x0f: "Tab",
	0x10: "Q", 0x11: "W", 0x12: "E", 0x13: "R", 0x14: "T", 0x15: "Y",
	0x16: "U", 0x17: "I", 0x18: "O", 0x19: "P", 0x1a: "BracketSquareLeft",
	0x1b: "BracketSquareRight", 0x1c: "Enter", 0x1d: "ControlLeft",
	0x1e: "A", 0x1f: "S", 0x20: "D", 0x21: "F", 0x22: "G", 0x23: "H",
	0x24: "J", 0x25: "K", 0x26: "L", 0x27: "SemiColon", 0x28: "Quote",
	0x29: "BackTick", 0x2a: "ShiftLeft", 0x2b: "BackSlash", 0x2c: "Z",
	0x2d: "X", 0x2e: "C", 0x2f: "V", 0x30: "B", 0x31: "N", 0x32: "M",
	0x33: "Comma", 0x34: "Fullstop", 0x35: "Slash", 0x36: "ShiftRight",
	0x37: "NumpadStar", 0x38: "AltLeft", 0x39: "Spacebar", 0x3a: "CapsLock",
	0x3b: "F1", 0x3c: "F2", 0x3d: "F3", 0x3e: "F4", 0x3f: "F5", 0x40: "F6",
	0x41: "F7", 0x42: "F8", 0x43: "F9", 0x44: "F10", 0x45: "NumpadLock",
	0x46: "ScrollLock", 0x47: "Numpad7", 0x48: "Numpad8", 0x49: "Numpad9",
	0x4a: "NumpadMinus", 0x4b: "Numpad4", 0x4c: "Numpad5", 0x4d: "Numpad6",
	0x4e: "NumpadPlus", 0x4f: "Numpad1", 0x50: "Numpad2", 0x51: "Numpad3",
	0x52: "Numpad0", 0x53: "NumpadPeriod", 0x57: "F11", 0x58: "F12",

	extendedBit | 0x1c: "NumpadEnter",
	extendedBit | 0x1d: "ControlRight",
	extendedBit | 0x35: "NumpadSlash",
	extendedBit | 0x38: "AltRight",
	extendedBit | 0x47: "Home",
	extendedBit | 0x48: "ArrowUp",
	extendedBit | 0x49: "PageUp",
	extendedBit | 0x4b: "ArrowLeft",
	extendedBit | 0x4d: "ArrowRight",
	extendedBit | 0x4f: "End",
	extendedBit | 0x50: "ArrowDown",
	extendedBit | 0x51: "PageDown",
	extendedBit | 0x52: "Insert",
	extendedBit | 0x53: "Delete",
	extendedBit | 0x5b: "WindowsLeft",
	extendedBit | 0x5c: "WindowsRight",
	extendedBit | 0x5d: "Apps",
}

// String returns the name of the key.
func (k KeyCode) String() string {
	if name := keyNames[k]; name != "" {
		return name
	}
	return "Unknown"
}

// isKnown returns true if the decoder can produce this key code.
func (k KeyCode) isKnown() bool {
	return keyNames[k] != ""
}

// us104 maps a key to the characters it produces without and with shift
// applied. Keys with a zero entry have no character representation.
var us104 = [0x59][2]byte{
	0x01: {0x1b, 0x1b},
	0x02: {'1', '!'}, 0x03: {'2', '@'}, 0x04: {'3', '#'}, 0x05: {'4', '$'},
	0x06: {'5', '%'}, 0x07: {'6', '^'}, 0x08: {'7', '&'}, 0x09: {'8', '*'},
	0x0a: {'9', '('}, 0x0b: {'0', ')'}, 0x0c: {'-', '_'}, 0x0d: {'=', '+'},
	0x0e: {0x08, 0x08}, 0x0f: {'\t', '\t'},
	0x10: {'q', 'Q'}, 0x11: {'w', 'W'}, 0x12: {'e', 'E'}, 0x13: {'r', 'R'},
	0x14: {'t', 'T'}, 0x15: {'y', 'Y'}, 0x16: {'u', 'U'}, 0x17: {'i', 'I'},
	0x18: {'o', 'O'}, 0x19: {'p', 'P'}, 0x1a: {'[', '{'}, 0x1b: {']', '}'},
	0x1c: {'\n', '\n'},
	0x1e: {'a', 'A'}, 0x1f: {'s', 'S'}, 0x20: {'d', 'D'}, 0x21: {'f', 'F'},
	0x22: {'g', 'G'}, 0x23: {'h', 'H'}, 0x24: {'j', 'J'}, 0x25: {'k', 'K'},
	0x26: {'l', 'L'}, 0x27: {';', ':'}, 0x28: {'\'', '"'}, 0x29: {'`', '~'},
	0x2b: {'\\', '|'},
	0x2c: {'z', 'Z'}, 0x2d: {'x', 'X'}, 0x2e: {'c', 'C'}, 0x2f: {'v', 'V'},
	0x30: {'b', 'B'}, 0x31: {'n', 'N'}, 0x32: {'m', 'M'}, 0x33: {',', '<'},
	0x34: {'.', '>'}, 0x35: {'/', '?'},
	0x37: {'*', '*'}, 0x39: {' ', ' '}, 0x4a: {'-', '-'}, 0x4e: {'+', '+'},
}

// numpad maps the keypad keys to the characters they produce while num lock
// is active; with num lock off they act as navigation keys.
var numpad = [...]struct {
	code KeyCode
	ch   byte
	nav  KeyCode
}{
	{KeyPad7, '7', KeyHome},
	{KeyPad8, '8', KeyArrowUp},
	{KeyPad9, '9', KeyPageUp},
	{KeyPad4, '4', KeyArrowLeft},
	{KeyPad5, '5', KeyUnknown},
	{KeyPad6, '6', KeyArrowRight},
	{KeyPad1, '1', KeyEnd},
	{KeyPad2, '2', KeyArrowDown},
	{KeyPad3, '3', KeyPageDown},
	{KeyPad0, '0', KeyInsert},
	{KeyPadPeriod, '.', KeyDelete},
}
