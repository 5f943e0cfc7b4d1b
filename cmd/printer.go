package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/martinemde/harness/agentloop"
)

// ConsolePrinter renders loop events for a terminal: command lines as
// "$ cmd", stdout chunks raw, stderr chunks to the error stream, and
// messages as "[role] text". It implements agentloop.EventSink.
type ConsolePrinter struct {
	out io.Writer
	err io.Writer
}

// NewConsolePrinter prints to stdout and stderr.
func NewConsolePrinter() *ConsolePrinter {
	return &ConsolePrinter{out: os.Stdout, err: os.Stderr}
}

func eventString(event agentloop.Event, key string) string {
	if v, ok := event.Data[key].(string); ok {
		return v
	}
	return ""
}

// Emit renders one event. Call bookkeeping events are not shown.
func (p *ConsolePrinter) Emit(event agentloop.Event) {
	switch event.Kind {
	case agentloop.EventCommandStart:
		fmt.Fprintf(p.out, "\n$ %s\n", eventString(event, "command"))
	case agentloop.EventOutputChunk:
		text := eventString(event, "text")
		if text == "" {
			return
		}
		if eventString(event, "channel") == "err" {
			io.WriteString(p.err, text)
		} else {
			io.WriteString(p.out, text)
		}
	case agentloop.EventInfo:
		role := eventString(event, "role")
		if role == "" {
			role = "info"
		}
		fmt.Fprintf(p.out, "\n[%s] %s\n", role, eventString(event, "text"))
	case agentloop.EventError:
		fmt.Fprintf(p.err, "\n[error] %s\n", eventString(event, "text"))
	case agentloop.EventCompleted:
		reason := eventString(event, "reason")
		if reason == "" {
			reason = "finished"
		}
		fmt.Fprintf(p.out, "\n[done] %s\n", reason)
	}
}
