package input

// Linux input keycodes used for sink routing. Only the range boundaries are
// needed here; the sinks declare whole ranges, not individual keys.
const (
	KeyEsc     = 1     // KEY_ESC, first standard keyboard code
	KeyUnknown = 240   // KEY_UNKNOWN, end of the primary keyboard block
	KeyOK      = 0x160 // KEY_OK, start of the extended remote-control block
	KeyMax     = 0x2ff // KEY_MAX

	BtnLeft   = 0x110 // BTN_LEFT
	BtnRight  = 0x111 // BTN_RIGHT
	BtnMiddle = 0x112 // BTN_MIDDLE
	BtnSide   = 0x113 // BTN_SIDE
	BtnExtra  = 0x114 // BTN_EXTRA
	BtnTask   = 0x117 // BTN_TASK, end of the mouse button block
)

// keyboardRange reports whether code falls in the keyboard device's declared
// set: the standard keys plus the extended block, mirroring what a physical
// keyboard registers.
func keyboardRange(code uint32) bool {
	if code >= KeyEsc && code < KeyUnknown {
		return true
	}
	return code >= KeyOK && code < KeyMax
}

// pointerRange reports whether code falls in the pointer device's declared
// button set. Mouse buttons overlap the keycode space, which is why routing
// has to consult both sinks.
func pointerRange(code uint32) bool {
	return code >= BtnLeft && code <= BtnTask
}
