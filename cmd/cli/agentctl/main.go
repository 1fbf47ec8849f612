package main

import (
	"context"
	"fmt"
	"os"
	"time"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-node-agent/pkg/control"
	"github.com/core-tools/hsu-node-agent/pkg/domain"
	"github.com/core-tools/hsu-node-agent/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type globalOptions struct {
	URL      string        `long:"url" description:"base URL of the agent control surface" default:"http://127.0.0.1:8080"`
	GRPCPort int           `long:"grpc-port" description:"port of the agent gRPC control endpoint" default:"50055"`
	Output   string        `long:"output" short:"o" description:"table, json or yaml" default:"table"`
	Timeout  time.Duration `long:"timeout" description:"request timeout" default:"60s"`
	Verbose  bool          `long:"verbose" short:"v" description:"log requests"`
}

type app struct {
	opts       globalOptions
	coreLogger coreLogging.Logger
	logger     logging.Logger
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

func (a *app) setupLogging() {
	if !a.opts.Verbose {
		discard := func(string, ...interface{}) {}
		a.coreLogger = coreLogging.NewLogger("", coreLogging.LogFuncs{
			Debugf: discard,
			Infof:  discard,
			Warnf:  discard,
			Errorf: discard,
		})
		a.logger = logging.NewNopLogger()
		return
	}

	logger := sprintfLogging.NewStdSprintfLogger()
	a.coreLogger = coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})
	a.logger = logging.NewLogger(
		logPrefix("hsu-node-agent"), logging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})
}

func (a *app) gateway() domain.Contract {
	return control.NewHTTPClientGateway(a.opts.URL, nil, a.logger)
}

func (a *app) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.opts.Timeout)
}

func main() {
	a := &app{}
	parser := flags.NewParser(&a.opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		a.setupLogging()
		if command == nil {
			return nil
		}
		return command.Execute(args)
	}

	parser.AddCommand("list", "List servers", "List every configured server with its runtime state.", &listCommand{app: a})
	parser.AddCommand("create", "Create a server", "Create a server from a JSON definition file.", &createCommand{app: a})
	parser.AddCommand("update", "Update a server", "Replace a server definition from a JSON file. Directory and port cannot change while it runs.", &updateCommand{app: a})
	parser.AddCommand("delete", "Delete a server", "Delete a stopped server definition.", &deleteCommand{app: a})
	parser.AddCommand("start", "Start a server", "Start a stopped server.", &startCommand{app: a})
	parser.AddCommand("stop", "Stop a server", "Stop a running server, escalating to a kill if needed.", &stopCommand{app: a})
	parser.AddCommand("restart", "Restart a server", "Stop a server if running, then start it.", &restartCommand{app: a})
	parser.AddCommand("backup", "Back up a server", "Archive the server directory into its backup directory.", &backupCommand{app: a})
	parser.AddCommand("command", "Send a console command", "Write one line to the server console input.", &consoleCommand{app: a})
	parser.AddCommand("health", "Check agent health", "Ping the gRPC control endpoint and query the health service.", &healthCommand{app: a})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		printError(err)
		os.Exit(1)
	}
}
