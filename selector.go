package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/evmtools/abiget/contract"
)

// EventSelector prompts for one event out of a list. In and Out are
// injectable so the prompt can be driven from tests or scripts.
type EventSelector struct {
	In  io.Reader
	Out io.Writer
}

// Select prints a numbered list of events and reads a 1-based choice.
func (s *EventSelector) Select(events []contract.Entry) (contract.Entry, error) {
	if len(events) == 0 {
		return contract.Entry{}, errors.New("no events to select from")
	}

	for i, ev := range events {
		fmt.Fprintf(s.Out, "%d: %s\n", i+1, ev.Name)
	}
	fmt.Fprint(s.Out, "Select an event: ")

	line, err := bufio.NewReader(s.In).ReadString('\n')
	if err != nil && line == "" {
		return contract.Entry{}, fmt.Errorf("read selection: %w", err)
	}

	input := strings.TrimSpace(line)
	choice, err := strconv.Atoi(input)
	if err != nil {
		return contract.Entry{}, fmt.Errorf("invalid selection %q", input)
	}
	if choice < 1 || choice > len(events) {
		return contract.Entry{}, fmt.Errorf("selection %d out of range", choice)
	}
	return events[choice-1], nil
}
