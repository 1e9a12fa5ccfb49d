package messages

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
)

// CommandMessage is the payload published on the control topic.
type CommandMessage struct {
	Command model.Command `json:"command"`
}

// ControlMessage is a decoded control-topic payload. Exactly one of
// HasCommand or Pump is set.
type ControlMessage struct {
	Command    model.Command
	HasCommand bool
	Pump       model.PumpState
}

// EncodeCommand returns {"command": <code>}.
func EncodeCommand(c model.Command) ([]byte, error) {
	return json.Marshal(CommandMessage{Command: c})
}

// DecodeControl accepts {"command": 1}, {"command": "21"}, a bare "1" as
// sent by the pico firmware, and pump state messages {"state": "on"}. A bare
// "0" is the firmware's pump off.
func DecodeControl(payload []byte) (ControlMessage, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return ControlMessage{}, fmt.Errorf("%w: empty control payload", model.ErrMalformedMessage)
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		if n == 0 {
			return ControlMessage{Pump: model.PumpOff}, nil
		}
		return ControlMessage{Command: model.Command(n), HasCommand: true}, nil
	}

	var raw struct {
		Command any     `json:"command"`
		State   *string `json:"state"`
	}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return ControlMessage{}, fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
	}

	if raw.Command != nil {
		code, err := commandCode(raw.Command)
		if err != nil {
			return ControlMessage{}, err
		}
		return ControlMessage{Command: code, HasCommand: true}, nil
	}
	if raw.State != nil {
		if strings.EqualFold(strings.TrimSpace(*raw.State), string(model.PumpOn)) {
			return ControlMessage{Pump: model.PumpOn}, nil
		}
		return ControlMessage{Pump: model.PumpOff}, nil
	}
	return ControlMessage{}, fmt.Errorf("%w: no command or state field", model.ErrMalformedMessage)
}

func commandCode(v any) (model.Command, error) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("%w: non-integer command %v", model.ErrMalformedMessage, t)
		}
		return model.Command(int(t)), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("%w: non-numeric command %q", model.ErrMalformedMessage, t)
		}
		return model.Command(n), nil
	}
	return 0, fmt.Errorf("%w: command has type %T", model.ErrMalformedMessage, v)
}
