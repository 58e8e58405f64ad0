package bus

import "time"

// CommandKind is a control request for the process supervisor.
type CommandKind uint8

const (
	_command_beg CommandKind = iota
	CommandStart
	CommandStop
	CommandShutdown
	CommandSuspend
	CommandActivate
	CommandDeactivate
	CommandReconfig
	CommandReset
	_command_end
)

var commandNames = [...]string{
	CommandStart:      "start",
	CommandStop:       "stop",
	CommandShutdown:   "shutdown",
	CommandSuspend:    "suspend",
	CommandActivate:   "activate",
	CommandDeactivate: "deactivate",
	CommandReconfig:   "reconfig",
	CommandReset:      "reset",
}

// IsAvailable reports whether k is a known command.
func (k CommandKind) IsAvailable() bool {
	return k > _command_beg && k < _command_end
}

func (k CommandKind) String() string {
	if !k.IsAvailable() {
		return "unknown"
	}
	return commandNames[k]
}

// ParseCommandKind maps a command name to its kind.
func ParseCommandKind(s string) (CommandKind, bool) {
	for k := _command_beg + 1; k < _command_end; k++ {
		if commandNames[k] == s {
			return k, true
		}
	}
	return 0, false
}

// Command is one control request. Hint carries the reset flags for CommandReset; Payload
// optionally carries the new configuration for CommandReconfig.
type Command struct {
	Kind    CommandKind
	Hint    uint32
	Payload any
	Source  string
	At      time.Time
}
