package main

import (
	"fmt"
	"os"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-node-agent/pkg/agent"
	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config      string `long:"config" description:"path to the agent configuration file" default:"/config/config.json"`
	LogLevel    string `long:"log-level" description:"debug, info, warn or error" default:"info"`
	LogFormat   string `long:"log-format" description:"console or json" default:"console"`
	StaticDir   string `long:"static-dir" description:"directory served outside the API"`
	GRPCPort    int    `long:"grpc-port" description:"port of the gRPC control endpoint, overrides grpc_port"`
	RunDuration int    `long:"run-duration" description:"stop after this many seconds"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = opts.LogLevel
	zapConfig.Format = opts.LogFormat
	zapLogger, err := logging.NewZap(zapConfig)
	if err != nil {
		fmt.Printf("Logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	sugar := zapLogger.Sugar()
	sugar.Infof("opts: %+v", opts)

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: sugar.Debugf,
			Infof:  sugar.Infof,
			Warnf:  sugar.Warnf,
			Errorf: sugar.Errorf,
		})
	agentLogger := logging.WithPrefix(logging.FromZap(zapLogger), logPrefix("hsu-node-agent"))

	configFile := opts.Config
	if configFile == "" {
		configFile = config.DefaultConfigPath
	}

	runOptions := agent.RunOptions{
		ConfigFile:      configFile,
		StaticDirectory: opts.StaticDir,
		GRPCPort:        opts.GRPCPort,
		RunDuration:     opts.RunDuration,
	}
	if err := agent.Run(runOptions, coreLogger, agentLogger); err != nil {
		agentLogger.Errorf("Agent failed: %v", err)
		zapLogger.Sync()
		os.Exit(1)
	}
}
