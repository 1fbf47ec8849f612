package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/control"
	"github.com/core-tools/hsu-node-agent/pkg/errors"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type serverArgs struct {
	ID string `positional-arg-name:"id" required:"yes"`
}

type listCommand struct {
	app *app
}

func (c *listCommand) Execute(args []string) error {
	ctx, cancel := c.app.requestContext()
	defer cancel()

	statuses, err := c.app.gateway().List(ctx)
	if err != nil {
		return err
	}
	return printStatuses(c.app.opts.Output, statuses)
}

type createCommand struct {
	app  *app
	File string `long:"file" short:"f" description:"JSON server definition, - for stdin" required:"yes"`
}

func (c *createCommand) Execute(args []string) error {
	def, err := readDefinition(c.File)
	if err != nil {
		return err
	}

	ctx, cancel := c.app.requestContext()
	defer cancel()

	created, err := c.app.gateway().Create(ctx, def)
	if err != nil {
		return err
	}
	printOK("Created server %s", created.ID)
	return nil
}

type updateCommand struct {
	app  *app
	Args serverArgs `positional-args:"yes"`
	File string     `long:"file" short:"f" description:"JSON server definition, - for stdin" required:"yes"`
}

func (c *updateCommand) Execute(args []string) error {
	def, err := readDefinition(c.File)
	if err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = c.Args.ID
	}

	ctx, cancel := c.app.requestContext()
	defer cancel()

	updated, err := c.app.gateway().Update(ctx, c.Args.ID, def)
	if err != nil {
		return err
	}
	printOK("Updated server %s", updated.ID)
	return nil
}

func readDefinition(path string) (config.ServerDefinition, error) {
	var def config.ServerDefinition
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return def, errors.NewIOError("failed to read definition", err).WithContext("file", path)
	}
	if err := json.Unmarshal(data, &def); err != nil {
		return def, errors.NewValidationError("failed to parse definition", err).WithContext("file", path)
	}
	return def, nil
}

type deleteCommand struct {
	app  *app
	Args serverArgs `positional-args:"yes"`
}

func (c *deleteCommand) Execute(args []string) error {
	ctx, cancel := c.app.requestContext()
	defer cancel()

	if err := c.app.gateway().Delete(ctx, c.Args.ID); err != nil {
		return err
	}
	printOK("Deleted server %s", c.Args.ID)
	return nil
}

type startCommand struct {
	app  *app
	Args serverArgs `positional-args:"yes"`
}

func (c *startCommand) Execute(args []string) error {
	ctx, cancel := c.app.requestContext()
	defer cancel()

	if err := c.app.gateway().Start(ctx, c.Args.ID); err != nil {
		return err
	}
	printOK("Started server %s", c.Args.ID)
	return nil
}

type stopCommand struct {
	app  *app
	Args serverArgs `positional-args:"yes"`
}

func (c *stopCommand) Execute(args []string) error {
	ctx, cancel := c.app.requestContext()
	defer cancel()

	if err := c.app.gateway().Stop(ctx, c.Args.ID); err != nil {
		return err
	}
	printOK("Stopped server %s", c.Args.ID)
	return nil
}

type restartCommand struct {
	app  *app
	Args serverArgs `positional-args:"yes"`
}

func (c *restartCommand) Execute(args []string) error {
	ctx, cancel := c.app.requestContext()
	defer cancel()

	if err := c.app.gateway().Restart(ctx, c.Args.ID); err != nil {
		return err
	}
	printOK("Restarted server %s", c.Args.ID)
	return nil
}

type backupCommand struct {
	app  *app
	Args serverArgs `positional-args:"yes"`
}

func (c *backupCommand) Execute(args []string) error {
	ctx, cancel := c.app.requestContext()
	defer cancel()

	path, err := c.app.gateway().Backup(ctx, c.Args.ID)
	if err != nil {
		return err
	}
	printOK("Backup written to %s", path)
	return nil
}

type consoleCommand struct {
	app  *app
	Args struct {
		ID   string   `positional-arg-name:"id" required:"yes"`
		Line []string `positional-arg-name:"line" required:"yes"`
	} `positional-args:"yes"`
}

func (c *consoleCommand) Execute(args []string) error {
	ctx, cancel := c.app.requestContext()
	defer cancel()

	line := strings.Join(c.Args.Line, " ")
	if err := c.app.gateway().SendCommand(ctx, c.Args.ID, line); err != nil {
		return err
	}
	printOK("Sent to %s: %s", c.Args.ID, line)
	return nil
}

type healthCommand struct {
	app      *app
	Server   string `long:"server" description:"also report the health of this server id"`
	Attempts int    `long:"attempts" description:"ping attempts before giving up" default:"10"`
}

func (c *healthCommand) Execute(args []string) error {
	connectionOptions := coreControl.ConnectionOptions{
		AttachPort: c.app.opts.GRPCPort,
	}
	connection, err := coreControl.NewConnection(connectionOptions, c.app.coreLogger)
	if err != nil {
		return errors.NewIOError("failed to connect to the gRPC control endpoint", err).WithContext("port", c.app.opts.GRPCPort)
	}

	ctx, cancel := c.app.requestContext()
	defer cancel()

	coreClientGateway := coreControl.NewGRPCClientGateway(connection.GRPC(), c.app.coreLogger)
	retryPingOptions := coreDomain.RetryPingOptions{
		RetryAttempts: c.Attempts,
		RetryInterval: 1 * time.Second,
	}
	if err := coreDomain.RetryPing(ctx, coreClientGateway, retryPingOptions, c.app.coreLogger); err != nil {
		return errors.NewIOError("agent did not answer ping", err)
	}

	client := healthpb.NewHealthClient(connection.GRPC())
	services := []string{""}
	if c.Server != "" {
		services = append(services, control.ServerServiceName(c.Server))
	}

	for _, service := range services {
		name := service
		if name == "" {
			name = "agent"
		}
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if status.Code(err) == codes.NotFound {
			printHealth(name, "UNKNOWN")
			continue
		}
		if err != nil {
			return errors.NewIOError("health check failed", err).WithContext("service", service)
		}
		printHealth(name, resp.GetStatus().String())
	}
	return nil
}
