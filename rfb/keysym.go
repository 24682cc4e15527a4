package rfb

import "strconv"

// X11 keysyms for keys without a printable Latin-1 symbol.
const (
	KeysymBackSpace   uint32 = 0xFF08
	KeysymTab         uint32 = 0xFF09
	KeysymReturn      uint32 = 0xFF0D
	KeysymPause       uint32 = 0xFF13
	KeysymScrollLock  uint32 = 0xFF14
	KeysymEscape      uint32 = 0xFF1B
	KeysymHome        uint32 = 0xFF50
	KeysymLeft        uint32 = 0xFF51
	KeysymUp          uint32 = 0xFF52
	KeysymRight       uint32 = 0xFF53
	KeysymDown        uint32 = 0xFF54
	KeysymPageUp      uint32 = 0xFF55
	KeysymPageDown    uint32 = 0xFF56
	KeysymEnd         uint32 = 0xFF57
	KeysymPrint       uint32 = 0xFF61
	KeysymInsert      uint32 = 0xFF63
	KeysymMenu        uint32 = 0xFF67
	KeysymNumLock     uint32 = 0xFF7F
	KeysymKPEnter     uint32 = 0xFF8D
	KeysymKPMultiply  uint32 = 0xFFAA
	KeysymKPAdd       uint32 = 0xFFAB
	KeysymKPSubtract  uint32 = 0xFFAD
	KeysymKPDecimal   uint32 = 0xFFAE
	KeysymKPDivide    uint32 = 0xFFAF
	KeysymKP0         uint32 = 0xFFB0
	KeysymKPEqual     uint32 = 0xFFBD
	KeysymF1          uint32 = 0xFFBE
	KeysymShiftL      uint32 = 0xFFE1
	KeysymShiftR      uint32 = 0xFFE2
	KeysymControlL    uint32 = 0xFFE3
	KeysymControlR    uint32 = 0xFFE4
	KeysymCapsLock    uint32 = 0xFFE5
	KeysymMetaL       uint32 = 0xFFE7
	KeysymMetaR       uint32 = 0xFFE8
	KeysymAltL        uint32 = 0xFFE9
	KeysymAltR        uint32 = 0xFFEA
	KeysymSuperL      uint32 = 0xFFEB
	KeysymSuperR      uint32 = 0xFFEC
	KeysymDelete      uint32 = 0xFFFF
	KeysymSpace       uint32 = 0x0020
	KeysymISOLevel3   uint32 = 0xFE03
	KeysymMultiKey    uint32 = 0xFF20
	KeysymSysReq      uint32 = 0xFF15
	KeysymBreak       uint32 = 0xFF6B
	KeysymVolumeMute  uint32 = 0x1008FF12
	KeysymVolumeDown  uint32 = 0x1008FF11
	KeysymVolumeUp    uint32 = 0x1008FF13
	KeysymAudioPlay   uint32 = 0x1008FF14
	KeysymAudioStop   uint32 = 0x1008FF15
	KeysymAudioPrev   uint32 = 0x1008FF16
	KeysymAudioNext   uint32 = 0x1008FF17
	KeysymBrowserBack uint32 = 0x1008FF26
)

// KeyTable maps physical key identifiers, as reported by the browser's
// KeyboardEvent.code, to unshifted X11 keysyms. Extend it by adding
// entries; keys missing from the table are not sent.
var KeyTable = map[string]uint32{
	"Backspace":   KeysymBackSpace,
	"Tab":         KeysymTab,
	"Enter":       KeysymReturn,
	"Escape":      KeysymEscape,
	"Space":       KeysymSpace,
	"Delete":      KeysymDelete,
	"Insert":      KeysymInsert,
	"Home":        KeysymHome,
	"End":         KeysymEnd,
	"PageUp":      KeysymPageUp,
	"PageDown":    KeysymPageDown,
	"ArrowLeft":   KeysymLeft,
	"ArrowUp":     KeysymUp,
	"ArrowRight":  KeysymRight,
	"ArrowDown":   KeysymDown,
	"PrintScreen": KeysymPrint,
	"ScrollLock":  KeysymScrollLock,
	"Pause":       KeysymPause,
	"ContextMenu": KeysymMenu,
	"CapsLock":    KeysymCapsLock,
	"NumLock":     KeysymNumLock,

	"ShiftLeft":    KeysymShiftL,
	"ShiftRight":   KeysymShiftR,
	"ControlLeft":  KeysymControlL,
	"ControlRight": KeysymControlR,
	"AltLeft":      KeysymAltL,
	"AltRight":     KeysymAltR,
	"MetaLeft":     KeysymSuperL,
	"MetaRight":    KeysymSuperR,
	"OSLeft":       KeysymSuperL,
	"OSRight":      KeysymSuperR,

	"Backquote":    '`',
	"Minus":        '-',
	"Equal":        '=',
	"BracketLeft":  '[',
	"BracketRight": ']',
	"Backslash":    '\\',
	"Semicolon":    ';',
	"Quote":        '\'',
	"Comma":        ',',
	"Period":       '.',
	"Slash":        '/',

	"IntlBackslash": '\\',

	"NumpadEnter":    KeysymKPEnter,
	"NumpadMultiply": KeysymKPMultiply,
	"NumpadAdd":      KeysymKPAdd,
	"NumpadSubtract": KeysymKPSubtract,
	"NumpadDecimal":  KeysymKPDecimal,
	"NumpadDivide":   KeysymKPDivide,
	"NumpadEqual":    KeysymKPEqual,

	"AudioVolumeMute":    KeysymVolumeMute,
	"AudioVolumeDown":    KeysymVolumeDown,
	"AudioVolumeUp":      KeysymVolumeUp,
	"MediaPlayPause":     KeysymAudioPlay,
	"MediaStop":          KeysymAudioStop,
	"MediaTrackPrevious": KeysymAudioPrev,
	"MediaTrackNext":     KeysymAudioNext,
	"BrowserBack":        KeysymBrowserBack,
}

func init() {
	for c := 'A'; c <= 'Z'; c++ {
		KeyTable["Key"+string(c)] = uint32(c - 'A' + 'a')
	}
	for d := '0'; d <= '9'; d++ {
		KeyTable["Digit"+string(d)] = uint32(d)
		KeyTable["Numpad"+string(d)] = KeysymKP0 + uint32(d-'0')
	}
	for i := 0; i < 12; i++ {
		KeyTable["F"+strconv.Itoa(i+1)] = KeysymF1 + uint32(i)
	}
}

// LookupKeysym returns the keysym for a physical key identifier.
func LookupKeysym(code string) (uint32, bool) {
	ks, ok := KeyTable[code]
	return ks, ok
}
