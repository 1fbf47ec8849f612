package domain

import (
	"context"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/telemetry"
)

type RunState string

const (
	RunStateRunning RunState = "running"
	RunStateStopped RunState = "stopped"
)

// ServerStatus is a definition together with its runtime state
type ServerStatus struct {
	config.ServerDefinition
	Status        RunState `json:"status"`
	PID           int      `json:"pid,omitempty"`
	UptimeSeconds int64    `json:"uptime_seconds,omitempty"`
}

// Contract is the operation set of the agent, served over REST and used by
// the CLI through a client gateway.
type Contract interface {
	List(ctx context.Context) ([]ServerStatus, error)
	Create(ctx context.Context, def config.ServerDefinition) (ServerStatus, error)
	Update(ctx context.Context, id string, def config.ServerDefinition) (ServerStatus, error)
	Delete(ctx context.Context, id string) error
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	Backup(ctx context.Context, id string) (string, error)
	SendCommand(ctx context.Context, id string, line string) error
}

// Streams gives access to the live telemetry of a running server
type Streams interface {
	Console(id string) ([]string, *telemetry.Subscription[string], error)
	Metrics(id string) (*telemetry.Subscription[telemetry.Sample], error)
}
