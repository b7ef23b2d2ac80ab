/*
	This file holds types supporting command-line requests to zpipe.
*/

package zpipe

import "strings"

// Command is a command line split into arguments.  The first item is the
// command name.  Other arguments are positional or optional settings of the
// form "<key>=<value>".
type Command []string

// String returns a space-separated command line
func (cmd Command) String() string {
	return strings.Join([]string(cmd), " ")
}

// Name returns the first argument which is assumed to be the name of the command.
func (cmd Command) Name() string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0]
}

// Parameter scans a command for any "key=value" argument and returns
// the value of the passed 'key'.
func (cmd Command) Parameter(key string) (value string, found bool) {
	if len(cmd) > 1 {
		for _, arg := range cmd[1:] {
			elems := strings.SplitN(arg, "=", 2)
			if len(elems) == 2 && elems[0] == key {
				value = elems[1]
				found = true
				return
			}
		}
	}
	return
}

// Positional returns the non-setting arguments after the command name.
func (cmd Command) Positional() []string {
	var args []string
	if len(cmd) > 1 {
		for _, arg := range cmd[1:] {
			if eq := strings.Index(arg, "="); eq > 0 && !strings.ContainsAny(arg[:eq], "[:,") {
				continue
			}
			args = append(args, arg)
		}
	}
	return args
}

// CommandArgs sets a variadic argument set of string pointers to positional
// arguments, starting with the given index, and returns any arguments that
// could not be assigned.
func (cmd Command) CommandArgs(startPos int, targets ...*string) []string {
	args := cmd.Positional()
	for i, target := range targets {
		pos := startPos + i
		if pos >= len(args) {
			return nil
		}
		*target = args[pos]
	}
	if startPos+len(targets) < len(args) {
		return args[startPos+len(targets):]
	}
	return nil
}
