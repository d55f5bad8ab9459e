// Package protocol implements the line protocol spoken over the datagram transport.
//
// A request is a single line "<command>$<payload>". Responses are single lines
// prefixed with SYS$ (informational) or ERR$ (failure), or carry chat text
// directly ("<name>: <text>", "<name> (private): <text>", "[History] <text>").
package protocol

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"strings"
)

const (
	Separator      = "$"
	SystemPrefix   = "SYS$"
	FailurePrefix  = "ERR$"
	HistoryPrefix  = "[History] "
	Ping           = "ping$"
	lineTerminator = "\n"
)

// Parse splits a raw datagram into its command and payload.
// Trailing line terminators (and NUL padding some clients send) are removed
// before splitting on the first separator; spaces and tabs around both parts
// are removed afterwards. The payload may be empty.
func Parse(raw []byte) (domain.Request, error) {
	line := Line(raw)
	command, payload, found := strings.Cut(line, Separator)
	if !found {
		return domain.Request{}, fmt.Errorf("%w (no %s): %s", errors.ErrMalformedRequest, Separator, line)
	}
	return domain.Request{
		Command: domain.Command(trimBlank(command)),
		Payload: trimBlank(payload),
	}, nil
}

// Line returns raw as text without its trailing line terminators and NUL padding.
func Line(raw []byte) string {
	return strings.TrimRight(string(raw), "\r\n\x00")
}

// Encode builds a request line.
func Encode(command domain.Command, payload string) string {
	return string(command) + Separator + payload
}

// Terminate appends the line terminator expected by clients.
func Terminate(line string) []byte {
	return []byte(line + lineTerminator)
}

func trimBlank(s string) string {
	return strings.Trim(s, " \t")
}

// System builds a server notice line (SYS$ prefix) from a format string.
func System(format string, args ...any) string {
	return SystemPrefix + fmt.Sprintf(format, args...)
}

// Failure builds an error line (ERR$ prefix) sent back to the requester only.
func Failure(format string, args ...any) string {
	return FailurePrefix + fmt.Sprintf(format, args...)
}

// Broadcast builds the public chat line "<name>: <text>".
// This is the exact text stored in history and replayed to newcomers.
func Broadcast(name, text string) string {
	return name + ": " + text
}

// Private builds the line a sayto recipient receives.
// Private lines never enter the history.
func Private(name, text string) string {
	return name + " (private): " + text
}

// Historical marks a stored entry as a replay ("[History] " prefix) so clients can
// tell it apart from live traffic.
func Historical(entry string) string {
	return HistoryPrefix + entry
}

// SplitRecipient separates "<recipient> <message>" as used by sayto.
// The recipient is the first space separated token; the rest is kept verbatim
// apart from the separating spaces.
func SplitRecipient(payload string) (recipient, message string) {
	recipient, message, _ = strings.Cut(payload, " ")
	return recipient, strings.TrimLeft(message, " ")
}
