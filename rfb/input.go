package rfb

// ButtonMask is the pointer button bitset carried by PointerEvent.
type ButtonMask uint8

const (
	ButtonLeft ButtonMask = 1 << iota
	ButtonMiddle
	ButtonRight
	ButtonWheelUp
	ButtonWheelDown
	ButtonWheelLeft
	ButtonWheelRight
)

// Button identifies one local pointer button.
type Button int

const (
	Left Button = iota
	Middle
	Right
)

var buttonBits = [...]ButtonMask{
	Left:   ButtonLeft,
	Middle: ButtonMiddle,
	Right:  ButtonRight,
}

// TranslatePointer builds a PointerEvent for a position already expressed
// in framebuffer coordinates and the buttons currently held.
func TranslatePointer(x, y uint16, held ...Button) PointerEvent {
	var mask ButtonMask
	for _, b := range held {
		if b >= 0 && int(b) < len(buttonBits) {
			mask |= buttonBits[b]
		}
	}
	return PointerEvent{ButtonMask: mask, X: x, Y: y}
}

// TranslateWheel returns the press and release pair for one wheel step.
// deltaY < 0 scrolls up, deltaY > 0 scrolls down; deltaX likewise scrolls
// left and right. held buttons stay set in both events.
func TranslateWheel(x, y uint16, deltaX, deltaY int, held ...Button) []PointerEvent {
	base := TranslatePointer(x, y, held...)
	var steps []ButtonMask
	switch {
	case deltaY < 0:
		steps = append(steps, ButtonWheelUp)
	case deltaY > 0:
		steps = append(steps, ButtonWheelDown)
	}
	switch {
	case deltaX < 0:
		steps = append(steps, ButtonWheelLeft)
	case deltaX > 0:
		steps = append(steps, ButtonWheelRight)
	}

	events := make([]PointerEvent, 0, 2*len(steps))
	for _, bit := range steps {
		press := base
		press.ButtonMask |= bit
		events = append(events, press, base)
	}
	return events
}

// TranslateKey maps a physical key identifier to a KeyEvent. It reports
// false for keys missing from KeyTable, in which case nothing is sent.
func TranslateKey(code string, pressed bool) (KeyEvent, bool) {
	ks, ok := LookupKeysym(code)
	if !ok {
		return KeyEvent{}, false
	}
	return KeyEvent{Down: pressed, Keysym: ks}, true
}
