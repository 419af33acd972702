package tui

import (
	"fmt"
	"strings"
)

// Command is a parsed ':' command.
type Command struct {
	Name string
	Args string
}

var commandAliases = map[string]string{
	"o":  "open",
	"s":  "start",
	"rm": "delete",
	"r":  "refresh",
	"p":  "people",
	"h":  "help",
	"q":  "quit",
}

var commandArgs = map[string]bool{
	"open":    true,
	"start":   true,
	"delete":  false,
	"refresh": false,
	"people":  false,
	"login":   false,
	"help":    false,
	"quit":    false,
}

// ParseCommand parses input without its leading ':'. Aliases resolve to
// their full name. Commands that need an argument fail without one.
func ParseCommand(input string) (Command, error) {
	input = strings.TrimSpace(input)
	name, args, _ := strings.Cut(input, " ")
	name = strings.ToLower(name)
	if full, ok := commandAliases[name]; ok {
		name = full
	}
	cmd := Command{Name: name, Args: strings.TrimSpace(args)}

	needsArg, ok := commandArgs[name]
	switch {
	case name == "":
		return cmd, fmt.Errorf("empty command")
	case !ok:
		return cmd, fmt.Errorf("unknown command %q", name)
	case needsArg && cmd.Args == "":
		return cmd, fmt.Errorf(":%s needs a username", name)
	}
	return cmd, nil
}
