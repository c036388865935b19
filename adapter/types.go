package adapter

import (
	"fmt"
	"strings"
)

// Type identifies an external system protocol.
type Type string

// Supported adapter types. KAFKA is an extension beyond the classic set.
const (
	TypeHTTP  Type = "HTTP"
	TypeJDBC  Type = "JDBC"
	TypeREST  Type = "REST"
	TypeSOAP  Type = "SOAP"
	TypeFILE  Type = "FILE"
	TypeMAIL  Type = "MAIL"
	TypeFTP   Type = "FTP"
	TypeSFTP  Type = "SFTP"
	TypeRFC   Type = "RFC"
	TypeIDOC  Type = "IDOC"
	TypeJMS   Type = "JMS"
	TypeODATA Type = "ODATA"
	TypeKAFKA Type = "KAFKA"
)

// AllTypes lists every known type in a stable order.
var AllTypes = []Type{
	TypeHTTP, TypeJDBC, TypeREST, TypeSOAP, TypeFILE, TypeMAIL, TypeFTP,
	TypeSFTP, TypeRFC, TypeIDOC, TypeJMS, TypeODATA, TypeKAFKA,
}

// ParseType normalizes and validates a type name.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown adapter type %q", s)
}

// Mode is the direction of an adapter relative to the middleware.
// A SENDER pulls data in from an external system; a RECEIVER pushes data out.
type Mode string

// Adapter modes
const (
	ModeSender   Mode = "SENDER"
	ModeReceiver Mode = "RECEIVER"
)

// ParseMode normalizes and validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModeSender, ModeReceiver:
		return m, nil
	default:
		return "", fmt.Errorf("unknown adapter mode %q", s)
	}
}

// Lower returns the mode as used in messages, e.g. "sender".
func (m Mode) Lower() string { return strings.ToLower(string(m)) }

// Key identifies one (type, mode) capability.
type Key struct {
	Type Type
	Mode Mode
}

func (k Key) String() string { return string(k.Type) + "/" + string(k.Mode) }
