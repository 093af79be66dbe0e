package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// Mode says who owns a server's lifecycle.
type Mode string

const (
	// ModeToolLaunched means an AI tool spawns the peer.
	ModeToolLaunched Mode = "tool_launched"
	// ModeHubHosted means the hub manages the peer.
	ModeHubHosted Mode = "hub_hosted"
)

var ErrInvalidMode = errors.New("unknown MCP server mode")

// ParseMode accepts tool_launched or hub_hosted.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeToolLaunched, ModeHubHosted:
		return m, nil
	default:
		return "", fmt.Errorf("%w '%s'. Valid: tool_launched, hub_hosted", ErrInvalidMode, s)
	}
}

func (m Mode) Valid() bool {
	return m == ModeToolLaunched || m == ModeHubHosted
}

type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusError   Status = "error"
)

// ServerStatus is a snapshot of one tracked server, computed on demand.
type ServerStatus struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Mode       Mode      `json:"mode"`
	Status     Status    `json:"status"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	InstanceID string    `json:"instance_id"`
	Error      string    `json:"error,omitempty"`
}

// Summary counts servers by status.
type Summary struct {
	Running int `json:"hub_running"`
	Stopped int `json:"hub_stopped"`
	Error   int `json:"hub_error"`
}

func Summarize(servers []ServerStatus) Summary {
	var s Summary
	for _, srv := range servers {
		switch srv.Status {
		case StatusRunning:
			s.Running++
		case StatusStopped:
			s.Stopped++
		case StatusError:
			s.Error++
		}
	}
	return s
}
