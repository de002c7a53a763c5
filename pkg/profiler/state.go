package profiler

import "fmt"

type State int

const (
	StateIdle State = iota
	StateConfigured
	StateEnabled
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
