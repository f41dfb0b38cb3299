package watcher

import (
	"strings"

	"hypertoken/internal/anchor"
	"hypertoken/internal/domain"
)

// ParsedEvent is an event decoded from a transaction's logs.
type ParsedEvent struct {
	Event domain.Event
	// Index is the event's position among the program's events in the transaction.
	Index int
}

// LogParser extracts factory events from transaction logs. Only "Program data:"
// lines emitted while the factory program is the innermost executing program
// are decoded; lines logged by other programs are ignored.
type LogParser struct {
	programID string
}

// NewLogParser creates a parser for events of programID.
func NewLogParser(programID string) *LogParser {
	return &LogParser{programID: programID}
}

// Parse returns the decoded events in log order and the errors of data lines
// that belong to the program but could not be decoded.
func (p *LogParser) Parse(logs []string) ([]ParsedEvent, []error) {
	var (
		stack  []string
		events []ParsedEvent
		errs   []error
	)

	for _, line := range logs {
		if program, ok := invokedProgram(line); ok {
			stack = append(stack, program)
			continue
		}
		if program, ok := finishedProgram(line); ok {
			if len(stack) > 0 && stack[len(stack)-1] == program {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		if len(stack) == 0 || stack[len(stack)-1] != p.programID {
			continue
		}

		ev, ok, err := anchor.ParseEventLogLine(line)
		if !ok {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ParsedEvent{Event: ev, Index: len(events)})
	}

	return events, errs
}

// invokedProgram matches "Program <id> invoke [<depth>]".
func invokedProgram(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "Program ")
	if !ok {
		return "", false
	}
	program, tail, ok := strings.Cut(rest, " ")
	if !ok || !strings.HasPrefix(tail, "invoke [") {
		return "", false
	}
	return program, true
}

// finishedProgram matches "Program <id> success" and "Program <id> failed: ...".
func finishedProgram(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "Program ")
	if !ok {
		return "", false
	}
	program, tail, ok := strings.Cut(rest, " ")
	if !ok {
		return "", false
	}
	if tail == "success" || strings.HasPrefix(tail, "failed") {
		return program, true
	}
	return "", false
}
