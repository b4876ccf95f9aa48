package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// interactive runs the client session loop: read a line, split it, run the
// command, print a one-line diagnostic on failure and keep going. EOF on
// stdin and the exit/quit commands end the loop; a failed command, a lost
// connection included, is reported and the loop continues.
func (e *env) interactive() error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(e.promptString())
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		fields := splitCommandLine(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		name, args := fields[0], fields[1:]

		if name == "exit" || name == "quit" {
			return nil
		}

		if err := e.run(name, args); err != nil {
			fmt.Fprintf(os.Stderr, "es: %v\n", err)
		}
	}
}

// splitCommandLine tokenizes a command line, honoring double quotes so
// paths with spaces survive.
func splitCommandLine(line string) []string {
	var fields []string
	var current strings.Builder
	inQuotes := false
	flush := func() {
		if current.Len() > 0 {
			fields = append(fields, current.String())
			current.Reset()
		}
	}
	for _, c := range line {
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == ' ' || c == '\t':
			if inQuotes {
				current.WriteRune(c)
			} else {
				flush()
			}
		default:
			current.WriteRune(c)
		}
	}
	flush()
	return fields
}
