package transport

import (
	"encoding/json"

	"codeberg.org/mutker/ad2ctl/internal/errors"
)

// Replies sent to the peer as plain text messages.
const (
	ReplyMeasuring = "measuring"
	ReplyStopped   = "measurement stopped"
)

// Status values of inbound command messages.
const (
	StatusOn  = "ON"
	StatusOff = "OFF"
)

type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandStart
	CommandStop
)

func (k CommandKind) String() string {
	switch k {
	case CommandStart:
		return "START"
	case CommandStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// Command is a decoded inbound message.
type Command struct {
	Kind      CommandKind
	Status    string
	Frequency float64
	Filename  string
}

// Telemetry is the per-window message sent to the peer.
type Telemetry struct {
	DCRMS float64 `json:"dcrms"`
	ACRMS float64 `json:"acrms"`
}

type wireCommand struct {
	Status    string   `json:"status"`
	Frequency *float64 `json:"frequency"`
	Filename  string   `json:"filename"`
}

// ParseCommand decodes {"status":"ON","frequency":f,"filename":s} or
// {"status":"OFF"}. Messages with any other status decode to CommandUnknown
// without error; malformed messages and START without a positive frequency
// return ErrInvalidCommand.
func ParseCommand(data []byte) (Command, error) {
	errFactory := errors.New()

	var wire wireCommand
	if err := json.Unmarshal(data, &wire); err != nil {
		return Command{}, errFactory.Wrap(errors.ErrInvalidCommand, err)
	}

	cmd := Command{Status: wire.Status, Filename: wire.Filename}
	switch wire.Status {
	case StatusOn:
		if wire.Frequency == nil || *wire.Frequency <= 0 {
			return cmd, errFactory.WithData(errors.ErrInvalidCommand, "frequency must be a positive number")
		}
		cmd.Kind = CommandStart
		cmd.Frequency = *wire.Frequency
	case StatusOff:
		cmd.Kind = CommandStop
	default:
		cmd.Kind = CommandUnknown
	}

	return cmd, nil
}
