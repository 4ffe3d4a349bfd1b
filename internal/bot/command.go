package bot

import (
	"strconv"
	"strings"
)

// CommandKind names a slash command or callback verb.
type CommandKind string

const (
	CmdUnknown      CommandKind = ""
	CmdStart        CommandKind = "start"
	CmdInfo         CommandKind = "info"
	CmdFAQ          CommandKind = "faq"
	CmdHelp         CommandKind = "help"
	CmdLang         CommandKind = "lang"
	CmdCourses      CommandKind = "courses"
	CmdEnrols       CommandKind = "enrols"
	CmdProgress     CommandKind = "progress"
	CmdCertificates CommandKind = "certificates"
	CmdGetCert      CommandKind = "getcert"
	CmdStudents     CommandKind = "students"
	CmdMessage      CommandKind = "message"
	CmdEvents       CommandKind = "events"
	CmdNewEvent     CommandKind = "newevent"
	CmdUserID       CommandKind = "userid"
	CmdPay          CommandKind = "pay"
)

// arity is the number of leading integer arguments each command takes.
// Anything past them is kept verbatim in Command.Tail.
var arity = map[CommandKind]int{
	CmdStart:        0,
	CmdInfo:         0,
	CmdFAQ:          0,
	CmdHelp:         0,
	CmdLang:         0,
	CmdCourses:      0,
	CmdEnrols:       0,
	CmdProgress:     1,
	CmdCertificates: 0,
	CmdGetCert:      0,
	CmdStudents:     3,
	CmdMessage:      3,
	CmdEvents:       0,
	CmdNewEvent:     5,
	CmdUserID:       1,
	CmdPay:          1,
}

// Command is a parsed "/verb arg arg tail" string, as typed by a user or
// carried in a callback payload.
type Command struct {
	Kind CommandKind
	Args []int64
	Tail string
}

// Has reports whether argument i was given.
func (c Command) Has(i int) bool { return i < len(c.Args) }

// Arg returns argument i, or 0 when absent.
func (c Command) Arg(i int) int64 {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return 0
}

// ParseCommand parses text. Text that does not start with a known command
// yields Kind CmdUnknown. A "@botname" suffix on the verb is ignored.
func ParseCommand(text string) Command {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}
	}
	verb, rest, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(verb, '@'); at >= 0 {
		verb = verb[:at]
	}
	kind := CommandKind(strings.ToLower(verb))
	n, ok := arity[kind]
	if !ok {
		return Command{}
	}

	cmd := Command{Kind: kind}
	rest = strings.TrimSpace(rest)
	for len(cmd.Args) < n && rest != "" {
		tok, after, _ := strings.Cut(rest, " ")
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			break
		}
		cmd.Args = append(cmd.Args, v)
		rest = strings.TrimSpace(after)
	}
	cmd.Tail = rest
	return cmd
}

// payload renders a callback payload for kind with args.
func payload(kind CommandKind, args ...int64) string {
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(string(kind))
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(a, 10))
	}
	return b.String()
}
