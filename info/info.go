// Package info provides utility functions for manipulating info lines
// returned by the modem in response to AT commands, and for splitting their
// comma separated, optionally quoted, argument fields.
package info

import "strings"

// HasPrefix returns true if the line begins with the info prefix for the command.
func HasPrefix(line, cmd string) bool {
	return strings.HasPrefix(line, cmd+":")
}

// TrimPrefix removes the command prefix, if any, and any intervening space
// from the info line.
func TrimPrefix(line, cmd string) string {
	return strings.TrimLeft(strings.TrimPrefix(line, cmd+":"), " ")
}

// Fields splits the argument section of an info line into its comma
// separated fields, removing surrounding quotes.
//
// Commas inside quoted fields do not split, so timestamps such as
// "24/03/12,10:15:22+00" come back as a single field. Unquoted fields are
// trimmed of surrounding whitespace.
func Fields(args string) []string {
	var fields []string
	var field strings.Builder
	quoted := false
	inQuotes := false
	for _, r := range args {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			quoted = true
		case r == ',' && !inQuotes:
			fields = append(fields, finishField(&field, quoted))
			quoted = false
		case inQuotes || !quoted:
			field.WriteRune(r)
			// else the char sits outside the quotes of a quoted field
			// (stray padding) and is dropped
		}
	}
	return append(fields, finishField(&field, quoted))
}

func finishField(b *strings.Builder, quoted bool) string {
	f := b.String()
	b.Reset()
	if !quoted {
		f = strings.TrimSpace(f)
	}
	return f
}
