// Package events provides the typed publish/subscribe bus that connects the
// session engine to user script handlers. Handlers carry a module tag so a
// live reload can purge exactly the callbacks a module registered.
package events

// Type classifies events for handler registration and dispatch.
type Type int

const (
	NewSession Type = iota
	Connection
	Prompt
	ConfigReloaded
	ScriptsReloaded
	Iac
	OptionEnabled
	OptionDisabled
	Subnegotiation
	BufferResized
	InputLine
	Shortcut
	KeyPress
	Mouse
	Custom
	GmcpEnabled
	GmcpDisabled
	GmcpMessage
	ResumeSession

	// All matches every event type; usable for registration only.
	All Type = -1
)

// String returns a human-readable name for the event type.
func (t Type) String() string {
	switch t {
	case NewSession:
		return "new_session"
	case Connection:
		return "connection"
	case Prompt:
		return "prompt"
	case ConfigReloaded:
		return "config_reloaded"
	case ScriptsReloaded:
		return "scripts_reloaded"
	case Iac:
		return "iac"
	case OptionEnabled:
		return "option_enabled"
	case OptionDisabled:
		return "option_disabled"
	case Subnegotiation:
		return "subnegotiation"
	case BufferResized:
		return "buffer_resized"
	case InputLine:
		return "input_line"
	case Shortcut:
		return "shortcut"
	case KeyPress:
		return "key_press"
	case Mouse:
		return "mouse"
	case Custom:
		return "custom"
	case GmcpEnabled:
		return "gmcp_enabled"
	case GmcpDisabled:
		return "gmcp_disabled"
	case GmcpMessage:
		return "gmcp_message"
	case ResumeSession:
		return "resume_session"
	case All:
		return "all"
	}
	return "unknown"
}

// Dimensions is a width x height pair reported by the renderer.
type Dimensions struct {
	Width  int
	Height int
}

// Event is one occurrence flowing through the bus. Session is the ID of the
// originating session, zero for global events. The typed fields are
// populated per Type; Payload carries engine objects (a MudLine, an
// InputLine, a StreamInfo) opaquely so leaf packages need not import the
// session package.
type Event struct {
	Type    Type
	Session int

	Option  byte       // OptionEnabled, OptionDisabled, Subnegotiation
	Command byte       // Iac
	Data    []byte     // Subnegotiation
	Package string     // GmcpMessage
	JSON    string     // GmcpMessage
	Text    string     // Prompt content, Shortcut name, KeyPress, Custom tag
	Dims    Dimensions // BufferResized
	Payload any        // MudLine / InputLine / StreamInfo / custom payload
}
