package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/domain"
	"github.com/core-tools/hsu-node-agent/pkg/errors"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

var (
	runningColor = color.New(color.FgGreen, color.Bold)
	stoppedColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	okColor      = color.New(color.FgGreen)
)

func printStatuses(format string, statuses []domain.ServerStatus) error {
	switch format {
	case "json":
		return writeJSON(os.Stdout, statuses)
	case "yaml":
		return writeYAML(os.Stdout, statuses)
	case "table", "":
		writeTable(os.Stdout, statuses)
		return nil
	default:
		return errors.NewValidationError(fmt.Sprintf("unknown output format '%s'", format), nil)
	}
}

func writeTable(w io.Writer, statuses []domain.ServerStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPID\tUPTIME\tPORT\tMEMORY\tAUTOSTART")
	for _, s := range statuses {
		state := stoppedColor.Sprint(s.Status)
		pid, uptime := "-", "-"
		if s.Status == domain.RunStateRunning {
			state = runningColor.Sprint(s.Status)
			pid = fmt.Sprint(s.PID)
			uptime = (time.Duration(s.UptimeSeconds) * time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%dM\t%t\n",
			s.ID, s.Name, state, pid, uptime, s.Port, s.MemoryMB, s.Autostart)
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// writeYAML goes through the JSON form so field names and the flattened
// definition match the API.
func writeYAML(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(generic); err != nil {
		return err
	}
	return encoder.Close()
}

func printOK(format string, args ...interface{}) {
	okColor.Printf(format+"\n", args...)
}

func printHealth(service string, state string) {
	c := stoppedColor
	if state == "SERVING" {
		c = runningColor
	}
	fmt.Printf("%-24s %s\n", service, c.Sprint(state))
}

func printError(err error) {
	errorColor.Fprintf(os.Stderr, "Error (%s): ", errors.TypeOf(err))
	fmt.Fprintln(os.Stderr, err)
}
