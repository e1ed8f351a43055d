package console

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is one parsed operator line: a verb followed by positional tokens
// and key=value arguments, all whitespace delimited.
type Command struct {
	Verb       string
	Positional []string
	Args       map[string]string
}

func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	cmd := Command{Verb: strings.ToLower(fields[0]), Args: map[string]string{}}
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			cmd.Positional = append(cmd.Positional, f)
			continue
		}
		if k == "" {
			return cmd, fmt.Errorf("malformed argument %q", f)
		}
		cmd.Args[k] = v
	}
	return cmd, nil
}

// Int reads key as an integer. Missing keys report ok=false without error.
func (c Command) Int(key string) (v int, ok bool, err error) {
	s, ok := c.Args[key]
	if !ok {
		return 0, false, nil
	}
	v, err = strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %q is not an integer", key, s)
	}
	return v, true, nil
}

// Arg returns the i-th positional token or "".
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Positional) {
		return ""
	}
	return c.Positional[i]
}

// MissingArgument formats the standard operator error for a missing argument.
func MissingArgument(name string) string {
	return fmt.Sprintf("missing argument %s", name)
}
