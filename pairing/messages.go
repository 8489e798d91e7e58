package pairing

import (
	"fmt"
)

// ProtocolVersion is carried by every pairing message.
const ProtocolVersion = 1

// Status is the outcome code carried by every pairing message.
type Status int

const (
	StatusOK               Status = 200
	StatusGenericError     Status = 400
	StatusBadConfiguration Status = 401
	StatusBadSecret        Status = 402
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusGenericError:
		return "error"
	case StatusBadConfiguration:
		return "bad_configuration"
	case StatusBadSecret:
		return "bad_secret"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Message types in protocol order.
const (
	TypePairingRequest    = "pairing_request"
	TypePairingRequestAck = "pairing_request_ack"
	TypeOptions           = "options"
	TypeConfiguration     = "configuration"
	TypeConfigurationAck  = "configuration_ack"
	TypeSecret            = "secret"
	TypeSecretAck         = "secret_ack"
)

// Roles a pairing participant can take.
const (
	// RoleInput enters the secret (the remote).
	RoleInput = "input"
	// RoleDisplay shows the secret (the television).
	RoleDisplay = "display"
)

// Message is the single envelope used for every pairing step. Fields not
// relevant to Type are left empty.
type Message struct {
	Version int    `json:"protocol_version"`
	Status  Status `json:"status"`
	Type    string `json:"type"`

	ServiceName string `json:"service_name,omitempty"`
	ClientName  string `json:"client_name,omitempty"`
	ServerName  string `json:"server_name,omitempty"`

	InputEncodings  []Encoding `json:"input_encodings,omitempty"`
	OutputEncodings []Encoding `json:"output_encodings,omitempty"`
	PreferredRole   string     `json:"preferred_role,omitempty"`

	Encoding   *Encoding `json:"encoding,omitempty"`
	ClientRole string    `json:"client_role,omitempty"`

	Secret []byte `json:"secret,omitempty"`
}

func newMessage(msgType string) Message {
	return Message{Version: ProtocolVersion, Status: StatusOK, Type: msgType}
}

func errorMessage(msgType string, status Status) Message {
	return Message{Version: ProtocolVersion, Status: status, Type: msgType}
}

// StatusError is returned when the peer answers with a non-OK status.
type StatusError struct {
	Type   string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pairing: peer answered %s with status %s", e.Type, e.Status)
}

func expect(msg Message, msgType string) error {
	if msg.Status != StatusOK {
		return &StatusError{Type: msgType, Status: msg.Status}
	}
	if msg.Version != ProtocolVersion {
		return fmt.Errorf("pairing: unsupported protocol version %d", msg.Version)
	}
	if msg.Type != msgType {
		return fmt.Errorf("pairing: expected %q, got %q", msgType, msg.Type)
	}
	return nil
}
