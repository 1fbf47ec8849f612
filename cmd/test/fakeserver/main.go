package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// The agent launches servers with a fixed JVM argument shape, so behaviour
// is selected through the environment and unknown flags are ignored.
type flagOptions struct {
	Lines        int  `long:"lines" env:"FAKESERVER_LINES" description:"number of startup lines to print" default:"5"`
	TickInterval int  `long:"tick-interval" env:"FAKESERVER_TICK_MS" description:"print a tick line every N milliseconds"`
	IgnoreStop   bool `long:"ignore-stop" env:"FAKESERVER_IGNORE_STOP" description:"do not exit on the stop command"`
	IgnoreTerm   bool `long:"ignore-term" env:"FAKESERVER_IGNORE_TERM" description:"do not exit on SIGTERM"`
	MemoryMB     int  `long:"memory-mb" env:"FAKESERVER_MEMORY_MB" description:"memory in megabytes to allocate"`
}

type fakeServer struct {
	opts flagOptions
	out  io.Writer
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag|flags.IgnoreUnknown)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	server := &fakeServer{opts: opts, out: os.Stdout}
	os.Exit(server.run(os.Stdin))
}

func (s *fakeServer) run(stdin io.Reader) int {
	fmt.Fprintf(s.out, "Starting fake server, args: %s\n", strings.Join(os.Args[1:], " "))

	var ballast []byte
	if s.opts.MemoryMB > 0 {
		ballast = make([]byte, s.opts.MemoryMB*1024*1024)
		for i := range ballast {
			ballast[i] = 1
		}
		fmt.Fprintf(s.out, "Allocated %d MB\n", s.opts.MemoryMB)
	}

	for i := 0; i < s.opts.Lines; i++ {
		fmt.Fprintf(s.out, "[Server thread/INFO]: Preparing spawn area: %d%%\n", (i+1)*100/max(s.opts.Lines, 1))
	}
	fmt.Fprintf(s.out, "[Server thread/INFO]: Done! For help, type \"help\"\n")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	stopped := make(chan struct{})
	go s.readCommands(stdin, stopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if s.opts.TickInterval > 0 {
		go s.tick(ctx, time.Duration(s.opts.TickInterval)*time.Millisecond)
	}

	for {
		select {
		case receivedSignal := <-sig:
			if s.opts.IgnoreTerm {
				fmt.Fprintf(s.out, "Ignoring signal: %v\n", receivedSignal)
				continue
			}
			fmt.Fprintf(s.out, "Received signal: %v\n", receivedSignal)
			return 143
		case <-stopped:
			fmt.Fprintf(s.out, "[Server thread/INFO]: Saving worlds\n")
			runtime.KeepAlive(ballast)
			return 0
		}
	}
}

func (s *fakeServer) readCommands(stdin io.Reader, stopped chan<- struct{}) {
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		if s.handle(scanner.Text()) {
			close(stopped)
			return
		}
	}
}

// handle answers one console line and reports whether the server should exit
func (s *fakeServer) handle(line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "stop":
		if s.opts.IgnoreStop {
			fmt.Fprintf(s.out, "Ignoring stop\n")
			return false
		}
		fmt.Fprintf(s.out, "[Server thread/INFO]: Stopping the server\n")
		return true
	case line == "list":
		fmt.Fprintf(s.out, "[Server thread/INFO]: There are 0 of a max of 20 players online:\n")
	case strings.HasPrefix(line, "say "):
		fmt.Fprintf(s.out, "[Server thread/INFO]: [Server] %s\n", strings.TrimPrefix(line, "say "))
	default:
		fmt.Fprintf(s.out, "> %s\n", line)
	}
	return false
}

func (s *fakeServer) tick(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 1; ; n++ {
		select {
		case <-ticker.C:
			fmt.Fprintf(s.out, "[Server thread/INFO]: tick %d\n", n)
		case <-ctx.Done():
			return
		}
	}
}
