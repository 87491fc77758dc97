package main

import (
	"fmt"
	"strconv"
	"strings"

	"collab-sync/backend/internal/ot"
)

// command is one parsed stdin line.
type command struct {
	name string
	ops  []ot.Operation
	pos  ot.Position
}

const usage = `commands:
  insert LINE COL TEXT            insert TEXT (\n for newline)
  delete L1 C1 L2 C2              delete the span (L1,C1)-(L2,C2)
  cursor LINE COL                 move your cursor
  resync                          push the local buffer to the server
  show                            print the document and cursors
  help | quit`

// parseCommand parses a stdin line. Text arguments keep their inner spaces; a literal \n is a newline.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	name, rest, _ := strings.Cut(line, " ")
	switch name {
	case "insert", "i":
		fields := strings.SplitN(strings.TrimSpace(rest), " ", 3)
		if len(fields) < 3 {
			return command{}, fmt.Errorf("usage: insert LINE COL TEXT")
		}
		nums, err := ints(fields[:2])
		if err != nil {
			return command{}, err
		}
		text := strings.ReplaceAll(fields[2], `\n`, "\n")
		return command{name: "insert", ops: []ot.Operation{ot.Insert(nums[0], nums[1], text)}}, nil
	case "delete", "d":
		nums, err := ints(strings.Fields(rest))
		if err != nil || len(nums) != 4 {
			return command{}, fmt.Errorf("usage: delete L1 C1 L2 C2")
		}
		return command{name: "delete", ops: []ot.Operation{ot.Replace(nums[0], nums[1], nums[2], nums[3], "")}}, nil
	case "cursor", "c":
		nums, err := ints(strings.Fields(rest))
		if err != nil || len(nums) != 2 {
			return command{}, fmt.Errorf("usage: cursor LINE COL")
		}
		return command{name: "cursor", pos: ot.Position{Line: nums[0], Column: nums[1]}}, nil
	case "resync", "show", "help", "quit":
		return command{name: name}, nil
	case "":
		return command{}, nil
	}
	return command{}, fmt.Errorf("unknown command %q (try help)", name)
}

func ints(fields []string) ([]int, error) {
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%q is not a positive number", f)
		}
		out[i] = n
	}
	return out, nil
}
