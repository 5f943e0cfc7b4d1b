package agentloop

import (
	"encoding/json"
	"errors"
	"path"
	"regexp"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// ActionType discriminates the decoded intent of one step.
type ActionType string

const (
	ActionRun     ActionType = "run"
	ActionMessage ActionType = "message"
	ActionDone    ActionType = "done"
)

// Action is the decoded intent for one step. An Action is never
// half-valid: a run always carries a non-empty command, so dispatch can
// switch on Type without re-validating fields.
type Action struct {
	Type      ActionType `json:"type"`
	Command   string     `json:"cmd,omitempty"`
	Text      string     `json:"message,omitempty"`
	Rationale string     `json:"thought,omitempty"`
}

// Parse failures, distinguished so the loop can pick the right recovery.
var (
	// ErrNoJSON means no object literal could be extracted from the reply.
	ErrNoJSON = errors.New("no JSON object in reply")
	// ErrUnresolvableType means an object was extracted but neither an
	// explicit type nor a usable cmd/message field resolved it.
	ErrUnresolvableType = errors.New("unresolvable action type")
	// ErrMissingCommand means an explicit run action carried no command.
	ErrMissingCommand = errors.New("missing cmd in run action")
)

// ParseResult is a decoded action plus a compliance verdict. NonCompliant
// flags replies that parsed but violated the one-object-only contract
// (extra text after the object, or several objects); the loop tolerates
// those while reminding the model of the format.
type ParseResult struct {
	Action       Action
	NonCompliant bool
}

var (
	fenceOpenRe  = regexp.MustCompile("^```[a-zA-Z0-9_-]*\\s*")
	fenceCloseRe = regexp.MustCompile("\\s*```$")
)

// stripFence removes one enclosing fenced code block. The fence is only
// stripped when the whole reply is wrapped: a reply that merely contains
// backticks is left alone.
func stripFence(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") && strings.HasSuffix(s, "```") {
		s = fenceOpenRe.ReplaceAllString(s, "")
		s = fenceCloseRe.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

// scanObjects walks the reply left to right collecting every complete
// top-level object literal. Decoding restarts at each '{'; a successful
// decode advances past the whole object so nested braces are not
// rescanned, a failed one advances a single byte.
func scanObjects(s string) []map[string]interface{} {
	var objs []map[string]interface{}
	i := 0
	for {
		j := strings.IndexByte(s[i:], '{')
		if j < 0 {
			return objs
		}
		j += i
		dec := json.NewDecoder(strings.NewReader(s[j:]))
		var obj map[string]interface{}
		if err := dec.Decode(&obj); err == nil {
			objs = append(objs, obj)
			i = j + int(dec.InputOffset())
		} else {
			i = j + 1
		}
	}
}

func stringField(obj map[string]interface{}, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

// ParseReply extracts a single Action from a raw model reply. It strips
// one enclosing fence, scans for object literals, and falls back to
// slicing between the outermost braces when the scan finds nothing. The
// first object wins; its rationale is backfilled from a later object when
// the first omitted one. Errors are ErrNoJSON, ErrUnresolvableType or
// ErrMissingCommand.
func ParseReply(reply string) (ParseResult, error) {
	cleaned := stripFence(reply)

	objs := scanObjects(cleaned)
	nonCompliant := len(objs) > 1

	// A reply that starts with a JSON value but trails extra content is
	// non-compliant even when only one object was found. Replies with
	// leading prose fail this decode and are judged on object count alone.
	dec := json.NewDecoder(strings.NewReader(cleaned))
	var whole interface{}
	if err := dec.Decode(&whole); err == nil {
		if strings.TrimSpace(cleaned[int(dec.InputOffset()):]) != "" {
			nonCompliant = true
		}
	}

	if len(objs) == 0 {
		first := strings.IndexByte(cleaned, '{')
		last := strings.LastIndexByte(cleaned, '}')
		if first < 0 || last <= first {
			return ParseResult{}, ErrNoJSON
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(cleaned[first:last+1]), &obj); err != nil {
			return ParseResult{}, ErrNoJSON
		}
		objs = append(objs, obj)
	}

	chosen := objs[0]
	rationale := stringField(chosen, "thought")
	if _, present := chosen["thought"]; !present {
		for _, o := range objs[1:] {
			if t := stringField(o, "thought"); t != "" {
				rationale = t
				break
			}
		}
	}

	action, err := resolveAction(chosen, rationale)
	if err != nil {
		return ParseResult{}, err
	}
	return ParseResult{Action: action, NonCompliant: nonCompliant}, nil
}

// resolveAction maps a decoded object to a typed Action. An explicit type
// must be run, message or done; otherwise the type is inferred from a
// non-empty cmd, then from a non-empty message.
func resolveAction(obj map[string]interface{}, rationale string) (Action, error) {
	cmd := strings.TrimSpace(stringField(obj, "cmd"))
	text := stringField(obj, "message")
	switch strings.ToLower(strings.TrimSpace(stringField(obj, "type"))) {
	case "run":
		if cmd == "" {
			return Action{}, ErrMissingCommand
		}
		return Action{Type: ActionRun, Command: normalizeCommand(cmd), Rationale: rationale}, nil
	case "message":
		return Action{Type: ActionMessage, Text: text, Rationale: rationale}, nil
	case "done":
		return Action{Type: ActionDone, Text: text, Rationale: rationale}, nil
	default:
		if cmd != "" {
			return Action{Type: ActionRun, Command: normalizeCommand(cmd), Rationale: rationale}, nil
		}
		if strings.TrimSpace(text) != "" {
			return Action{Type: ActionMessage, Text: text, Rationale: rationale}, nil
		}
		return Action{}, ErrUnresolvableType
	}
}

var interpreterNames = map[string]bool{
	"sh":     true,
	"bash":   true,
	"zsh":    true,
	"dash":   true,
	"ksh":    true,
	"fish":   true,
	"env":    true,
	"python": true,
	"perl":   true,
	"ruby":   true,
	"node":   true,
	"deno":   true,
}

// looksLikeScript reports whether a multi-line command is a deliberate
// script rather than separate statements accidentally joined by newlines.
// Here-doc markers and a first line that invokes an interpreter both count
// as deliberate.
func looksLikeScript(cmd string) bool {
	if strings.Contains(cmd, "<<") {
		return true
	}
	firstLine := cmd
	if i := strings.IndexByte(cmd, '\n'); i >= 0 {
		firstLine = cmd[:i]
	}
	tokens, err := shellwords.Parse(firstLine)
	if err != nil || len(tokens) == 0 {
		return false
	}
	name := path.Base(tokens[0])
	name = strings.TrimRight(name, "0123456789.")
	return interpreterNames[name]
}

// normalizeCommand rejoins a multi-line command into a single line by
// joining its non-blank lines with "&&", unless the command looks like a
// deliberate script, which is passed through untouched.
func normalizeCommand(cmd string) string {
	if !strings.Contains(cmd, "\n") {
		return cmd
	}
	if looksLikeScript(cmd) {
		return cmd
	}
	var parts []string
	for _, line := range strings.Split(cmd, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " && ")
}
