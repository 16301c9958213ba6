package chat

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Models that cannot emit native function calls are prompted to embed them in
// text instead, using either an XML-like block:
//
//	<tool_use><name>read_file</name><args>{"path":"main.go"}</args></tool_use>
//
// or a delimited JSON block:
//
//	[TOOL_CALL]{"tool":"read_file","parameters":{"path":"main.go"}}[/TOOL_CALL]
//
// The extractor tolerates all three encodings in a single message.
const (
	xmlCallOpen  = "<tool_use>"
	xmlCallClose = "</tool_use>"

	jsonCallOpen  = "[TOOL_CALL]"
	jsonCallClose = "[/TOOL_CALL]"

	// callIDPrefix marks ids synthesized locally rather than by the provider.
	callIDPrefix = "fc_"
)

// ExtractFunctionCalls parses one message's parts into an ordered list of
// tool invocations. Native call parts are taken directly; text parts are
// scanned for embedded encodings. Malformed embedded occurrences are dropped
// silently rather than aborting extraction.
func ExtractFunctionCalls(c Content) []FunctionCall {
	var calls []FunctionCall
	for _, part := range c.Parts {
		if part.FunctionCall != nil {
			calls = append(calls, *part.FunctionCall)
			continue
		}
		if part.IsText() && !part.Thought && part.Text != "" {
			for _, seg := range splitEmbeddedCalls(part.Text) {
				if seg.call != nil {
					calls = append(calls, *seg.call)
				}
			}
		}
	}
	return calls
}

// NormalizeFunctionCalls rewrites a message in place, splitting text parts
// that contain embedded tool-call markup into interleaved plain-text parts
// and native call parts. Text surrounding each match is preserved (trimmed);
// the markup itself is discarded. Idempotent: a normalized message contains
// no markers, so a second pass is a no-op.
func NormalizeFunctionCalls(c *Content) {
	var out []Part
	changed := false
	for _, part := range c.Parts {
		if !part.IsText() || part.Thought || part.Text == "" {
			out = append(out, part)
			continue
		}
		segs := splitEmbeddedCalls(part.Text)
		if len(segs) == 1 && segs[0].call == nil {
			out = append(out, part)
			continue
		}
		changed = true
		for _, seg := range segs {
			if seg.call != nil {
				call := *seg.call
				out = append(out, Part{FunctionCall: &call})
				continue
			}
			text := strings.TrimSpace(seg.text)
			if text != "" {
				out = append(out, Part{Text: text})
			}
		}
	}
	if changed {
		c.Parts = out
	}
}

// EnsureCallIDs assigns a synthesized id to every native call part that
// lacks one. Already-assigned ids are left untouched, so re-running is a
// no-op. Ids are unique within the conversation.
func EnsureCallIDs(c *Content) {
	for i := range c.Parts {
		call := c.Parts[i].FunctionCall
		if call == nil {
			continue
		}
		if strings.TrimSpace(call.ID) == "" {
			call.ID = NewCallID()
		}
	}
}

// NewCallID returns a fresh synthesized call id.
func NewCallID() string {
	return callIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// segment is either plain text or one extracted call.
type segment struct {
	text string
	call *FunctionCall
}

// splitEmbeddedCalls scans text for all non-overlapping embedded tool-call
// blocks of either encoding, earliest match first. Returns one all-text
// segment when nothing parses.
func splitEmbeddedCalls(text string) []segment {
	var segs []segment
	rest := text
	for {
		match, ok := nextEmbeddedCall(rest)
		if !ok {
			break
		}
		if match.start > 0 {
			segs = append(segs, segment{text: rest[:match.start]})
		}
		segs = append(segs, segment{call: match.call})
		rest = rest[match.end:]
	}
	segs = append(segs, segment{text: rest})
	return segs
}

type embeddedMatch struct {
	start, end int
	call       *FunctionCall
}

// nextEmbeddedCall finds the earliest parseable embedded call in text.
// A marker pair that fails to parse is skipped: the scan resumes after its
// open marker so the malformed occurrence stays plain text.
func nextEmbeddedCall(text string) (embeddedMatch, bool) {
	offset := 0
	for {
		sub := text[offset:]
		xmlIdx := strings.Index(sub, xmlCallOpen)
		jsonIdx := strings.Index(sub, jsonCallOpen)
		if xmlIdx < 0 && jsonIdx < 0 {
			return embeddedMatch{}, false
		}

		useXML := xmlIdx >= 0 && (jsonIdx < 0 || xmlIdx < jsonIdx)
		var start int
		var call *FunctionCall
		var end int
		if useXML {
			start = offset + xmlIdx
			call, end = parseXMLCall(text, start)
		} else {
			start = offset + jsonIdx
			call, end = parseJSONCall(text, start)
		}
		if call != nil {
			return embeddedMatch{start: start, end: end, call: call}, true
		}
		// Malformed: step past this open marker and keep scanning.
		if useXML {
			offset = start + len(xmlCallOpen)
		} else {
			offset = start + len(jsonCallOpen)
		}
	}
}

// parseXMLCall parses a <tool_use> block starting at start. Returns the call
// and the index just past the close tag, or nil when malformed.
func parseXMLCall(text string, start int) (*FunctionCall, int) {
	inner := start + len(xmlCallOpen)
	closeIdx := strings.Index(text[inner:], xmlCallClose)
	if closeIdx < 0 {
		return nil, 0
	}
	body := text[inner : inner+closeIdx]
	end := inner + closeIdx + len(xmlCallClose)

	name, ok := innerTag(body, "name")
	if !ok || strings.TrimSpace(name) == "" {
		return nil, 0
	}
	argsText, ok := innerTag(body, "args")
	if !ok {
		return nil, 0
	}
	args, ok := parseArgs(argsText)
	if !ok {
		return nil, 0
	}
	return &FunctionCall{Name: strings.TrimSpace(name), Args: args}, end
}

// parseJSONCall parses a [TOOL_CALL] block starting at start. The payload is
// {"tool": name, "parameters": {...}}.
func parseJSONCall(text string, start int) (*FunctionCall, int) {
	inner := start + len(jsonCallOpen)
	closeIdx := strings.Index(text[inner:], jsonCallClose)
	if closeIdx < 0 {
		return nil, 0
	}
	body := strings.TrimSpace(text[inner : inner+closeIdx])
	end := inner + closeIdx + len(jsonCallClose)

	if !gjson.Valid(body) {
		return nil, 0
	}
	name := gjson.Get(body, "tool").String()
	if strings.TrimSpace(name) == "" {
		return nil, 0
	}
	args := map[string]any{}
	if params := gjson.Get(body, "parameters"); params.Exists() {
		if !params.IsObject() {
			return nil, 0
		}
		if v, ok := params.Value().(map[string]any); ok {
			args = v
		}
	}
	return &FunctionCall{Name: strings.TrimSpace(name), Args: args}, end
}

// innerTag extracts the content of the first <tag>...</tag> pair in body.
func innerTag(body, tag string) (string, bool) {
	open := "<" + tag + ">"
	closing := "</" + tag + ">"
	openIdx := strings.Index(body, open)
	if openIdx < 0 {
		return "", false
	}
	rest := body[openIdx+len(open):]
	closeIdx := strings.Index(rest, closing)
	if closeIdx < 0 {
		return "", false
	}
	return rest[:closeIdx], true
}

// parseArgs decodes a JSON object of arguments. Empty text means no args.
func parseArgs(text string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return map[string]any{}, true
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}
