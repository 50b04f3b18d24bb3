package relay

import (
	"errors"
	"strings"
	"unicode"

	"github.com/iksnae/claude-relay/internal"
)

// sessionLinePrefix marks the address line in notifications
const sessionLinePrefix = "Session: "

// CommandKind classifies an operator message
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandHelp
	CommandSessions
	CommandServers
	CommandDispatch
	CommandInvalid
	CommandEdited
)

func (k CommandKind) String() string {
	switch k {
	case CommandHelp:
		return "help"
	case CommandSessions:
		return "sessions"
	case CommandServers:
		return "servers"
	case CommandDispatch:
		return "dispatch"
	case CommandInvalid:
		return "invalid"
	case CommandEdited:
		return "edited"
	default:
		return "none"
	}
}

// Command is a parsed operator message
type Command struct {
	Kind    CommandKind
	Address internal.Address
	Command string
	Err     error
}

var errUsage = errors.New("usage: /cmd <serverId>:<serverNumber> <command>")

// ParseCommand interprets a chat message. replyTo is the text of the
// message being replied to, if any; a plain-text reply to a notification
// dispatches to the session named on its "Session:" line.
func ParseCommand(text, replyTo string) Command {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Command{Kind: CommandNone}
	}

	if !strings.HasPrefix(trimmed, "/") {
		addr, ok := sessionFromNotification(replyTo)
		if !ok {
			return Command{Kind: CommandNone}
		}
		return Command{Kind: CommandDispatch, Address: addr, Command: trimmed}
	}

	name, rest := splitWord(trimmed)
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}

	switch strings.ToLower(name) {
	case "/help", "/start":
		return Command{Kind: CommandHelp}
	case "/sessions":
		return Command{Kind: CommandSessions}
	case "/servers":
		return Command{Kind: CommandServers}
	case "/cmd":
		return parseDispatch(rest)
	default:
		return Command{Kind: CommandNone}
	}
}

// parseDispatch handles "<serverId>:<serverNumber> <command>". The command
// is passed on as typed, after the separating whitespace.
func parseDispatch(rest string) Command {
	if rest == "" {
		return Command{Kind: CommandInvalid, Err: errUsage}
	}
	ref, command := splitWord(rest)
	addr, err := internal.ParseAddress(ref)
	if err != nil {
		return Command{Kind: CommandInvalid, Err: err}
	}
	if strings.TrimSpace(command) == "" {
		return Command{Kind: CommandInvalid, Address: addr, Err: errUsage}
	}
	return Command{Kind: CommandDispatch, Address: addr, Command: command}
}

// splitWord returns the first whitespace-delimited word and the remainder
// with its leading whitespace removed
func splitWord(s string) (string, string) {
	idx := strings.IndexFunc(s, unicode.IsSpace)
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimLeftFunc(s[idx:], unicode.IsSpace)
}

func sessionFromNotification(text string) (internal.Address, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, sessionLinePrefix) {
			continue
		}
		addr, err := internal.ParseAddress(strings.TrimSpace(strings.TrimPrefix(line, sessionLinePrefix)))
		if err != nil {
			return internal.Address{}, false
		}
		return addr, true
	}
	return internal.Address{}, false
}
