package console

import (
	"strings"

	"github.com/lukeb-aidev/cohesix-sub003/internal/bounded"
	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
)

// Verbs is the fixed grammar both consoles accept (spec §4.6). tcp-diag
// and netstats are TCP-only; the serial transport rejects them with
// EPERM before they ever reach the handler.
var Verbs = map[string]bool{
	"help": true, "attach": true, "login": true, "detach": true,
	"ping": true, "tcp-diag": true, "ls": true, "cat": true,
	"tail": true, "echo": true, "spawn": true, "kill": true,
	"bind": true, "mount": true, "lifecycle": true, "log": true,
	"netstats": true, "test": true, "pool": true, "quit": true,
}

var tcpOnlyVerbs = map[string]bool{"tcp-diag": true, "netstats": true}

// Command is one parsed console request line.
type Command struct {
	Verb string
	Args []string
	Raw  string
}

// Parse tokenizes and validates a raw line against the shared console
// contract: ≤128 bytes, UTF-8 sanitized (invalid sequences dropped and
// counted, never fatal), whitespace-separated verb and arguments.
func Parse(raw []byte) (Command, error) {
	line, err := bounded.ParseLine(raw)
	if err != nil {
		return Command{}, coherr.New(coherr.EINVAL, "%v", err)
	}

	fields := strings.Fields(line.Text)
	if len(fields) == 0 {
		return Command{}, coherr.New(coherr.EINVAL, "empty line")
	}

	verb := strings.ToLower(fields[0])
	if !Verbs[verb] {
		return Command{}, coherr.New(coherr.EINVAL, "unknown verb %q", verb)
	}

	return Command{Verb: verb, Args: fields[1:], Raw: line.Text}, nil
}

// CheckTransport rejects TCP-only verbs on the serial transport (spec
// §6: "identical grammar to TCP console, minus TCP-only verbs").
func CheckTransport(verb string, isTCP bool) error {
	if tcpOnlyVerbs[verb] && !isTCP {
		return coherr.New(coherr.EPERM, "%s is only available on the TCP console", verb)
	}
	return nil
}
