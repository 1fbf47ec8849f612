package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFakeServer_Handle(t *testing.T) {
	tests := []struct {
		name       string
		ignoreStop bool
		line       string
		exits      bool
		output     string
	}{
		{name: "stop", line: "stop", exits: true, output: "Stopping the server"},
		{name: "ignored_stop", ignoreStop: true, line: "stop", output: "Ignoring stop"},
		{name: "say", line: "say hi", output: "[Server] hi"},
		{name: "list", line: "list", output: "players online"},
		{name: "echo", line: "weather clear", output: "> weather clear"},
		{name: "blank", line: "   ", output: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			server := &fakeServer{opts: flagOptions{IgnoreStop: tt.ignoreStop}, out: &out}
			assert.Equal(t, tt.exits, server.handle(tt.line))
			assert.Contains(t, out.String(), tt.output)
		})
	}
}

func TestFakeServer_RunExitsOnStop(t *testing.T) {
	var out bytes.Buffer
	server := &fakeServer{opts: flagOptions{Lines: 3}, out: &out}

	code := server.run(strings.NewReader("list\nstop\n"))

	assert.Equal(t, 0, code)
	assert.Equal(t, 3, strings.Count(out.String(), "Preparing spawn area"))
	assert.Contains(t, out.String(), "Done!")
	assert.Contains(t, out.String(), "Saving worlds")
}
