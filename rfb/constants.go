package rfb

const (
	RFBVersion = "RFB 003.008\n"

	// Client-to-server message types
	MsgSetPixelFormat           = 0
	MsgSetEncodings             = 2
	MsgFramebufferUpdateRequest = 3
	MsgKeyEvent                 = 4
	MsgPointerEvent             = 5
	MsgClientCutText            = 6

	// Server-to-client message types
	MsgFramebufferUpdate  = 0
	MsgSetColorMapEntries = 1
	MsgBell               = 2
	MsgServerCutText      = 3

	// Security types
	SecurityInvalid = 0
	SecurityNone    = 1
	SecurityVNCAuth = 2

	// Security result values
	SecurityResultOK     = 0
	SecurityResultFailed = 1

	// Message lengths
	SetPixelFormatLength           = 20
	FramebufferUpdateRequestLength = 10
	KeyEventLength                 = 8
	PointerEventLength             = 6
	ClientInitLength               = 1
	ServerInitHeaderLength         = 24
	RectangleHeaderLength          = 12
)

// Encoding identifies how a rectangle's pixel payload is laid out.
type Encoding int32

const (
	EncodingRaw      Encoding = 0
	EncodingCopyRect Encoding = 1
	EncodingRRE      Encoding = 2
	EncodingHextile  Encoding = 5
	EncodingTRLE     Encoding = 15
	EncodingZRLE     Encoding = 16

	EncodingCursor      Encoding = -239
	EncodingDesktopSize Encoding = -223
)

var encodingNames = map[Encoding]string{
	EncodingRaw:         "raw",
	EncodingCopyRect:    "copyrect",
	EncodingRRE:         "rre",
	EncodingHextile:     "hextile",
	EncodingTRLE:        "trle",
	EncodingZRLE:        "zrle",
	EncodingCursor:      "cursor",
	EncodingDesktopSize: "desktopsize",
}

func (e Encoding) String() string {
	if name, ok := encodingNames[e]; ok {
		return name
	}
	return "unknown"
}

// ParseEncoding maps an envelope encoding name back to its wire value.
func ParseEncoding(name string) (Encoding, bool) {
	for enc, n := range encodingNames {
		if n == name {
			return enc, true
		}
	}
	return 0, false
}

// Envelope discriminators exchanged with the browser.
const (
	EnvelopeInit              = "init"
	EnvelopeFramebufferUpdate = "framebuffer_update"
	EnvelopeBell              = "bell"
	EnvelopeServerCutText     = "server_cut_text"
	EnvelopeError             = "error"

	EnvelopeFramebufferRequest = "framebuffer_request"
	EnvelopeKeyEvent           = "key_event"
	EnvelopePointerEvent       = "pointer_event"
)
