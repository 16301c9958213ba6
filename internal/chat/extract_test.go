package chat

import (
	"reflect"
	"testing"
)

func modelMessage(texts ...string) Content {
	c := Content{Role: RoleModel}
	for _, t := range texts {
		c.Parts = append(c.Parts, Part{Text: t})
	}
	return c
}

func TestNormalizeFunctionCalls_XMLBlock(t *testing.T) {
	c := modelMessage(`before<tool_use><name>x</name><args>{}</args></tool_use>after`)
	NormalizeFunctionCalls(&c)

	if len(c.Parts) != 3 {
		t.Fatalf("got %d parts, want 3: %+v", len(c.Parts), c.Parts)
	}
	if c.Parts[0].Text != "before" {
		t.Errorf("part 0 = %q, want %q", c.Parts[0].Text, "before")
	}
	call := c.Parts[1].FunctionCall
	if call == nil {
		t.Fatal("part 1 is not a function call")
	}
	if call.Name != "x" {
		t.Errorf("call name = %q, want %q", call.Name, "x")
	}
	if len(call.Args) != 0 {
		t.Errorf("call args = %v, want empty", call.Args)
	}
	if c.Parts[2].Text != "after" {
		t.Errorf("part 2 = %q, want %q", c.Parts[2].Text, "after")
	}
}

func TestNormalizeFunctionCalls_JSONBlock(t *testing.T) {
	c := modelMessage(`ok [TOOL_CALL]{"tool":"read_file","parameters":{"path":"main.go"}}[/TOOL_CALL]`)
	NormalizeFunctionCalls(&c)

	if len(c.Parts) != 2 {
		t.Fatalf("got %d parts, want 2: %+v", len(c.Parts), c.Parts)
	}
	call := c.Parts[1].FunctionCall
	if call == nil {
		t.Fatal("part 1 is not a function call")
	}
	if call.Name != "read_file" {
		t.Errorf("call name = %q, want %q", call.Name, "read_file")
	}
	if call.Args["path"] != "main.go" {
		t.Errorf("args[path] = %v, want main.go", call.Args["path"])
	}
}

func TestNormalizeFunctionCalls_MixedEncodings(t *testing.T) {
	c := modelMessage(`<tool_use><name>a</name><args>{}</args></tool_use>` +
		` middle [TOOL_CALL]{"tool":"b"}[/TOOL_CALL]`)
	NormalizeFunctionCalls(&c)

	calls := ExtractFunctionCalls(c)
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].Name != "a" || calls[1].Name != "b" {
		t.Errorf("call order = %s, %s; want a, b", calls[0].Name, calls[1].Name)
	}
}

func TestNormalizeFunctionCalls_Idempotent(t *testing.T) {
	cases := []string{
		`before<tool_use><name>x</name><args>{"k":1}</args></tool_use>after`,
		`[TOOL_CALL]{"tool":"t","parameters":{}}[/TOOL_CALL]`,
		`plain text with no markup`,
		`<tool_use>malformed, no close`,
	}
	for _, text := range cases {
		c := modelMessage(text)
		NormalizeFunctionCalls(&c)
		once := c.Clone()
		NormalizeFunctionCalls(&c)
		if !reflect.DeepEqual(once.Parts, c.Parts) {
			t.Errorf("normalize not idempotent for %q:\nfirst:  %+v\nsecond: %+v", text, once.Parts, c.Parts)
		}
	}
}

func TestExtractFunctionCalls_UnchangedByNormalize(t *testing.T) {
	cases := []Content{
		modelMessage(`x<tool_use><name>a</name><args>{"p":"v"}</args></tool_use>y`),
		modelMessage(`[TOOL_CALL]{"tool":"b","parameters":{"n":2}}[/TOOL_CALL]`),
		modelMessage(`no calls at all`),
		{Role: RoleModel, Parts: []Part{
			{FunctionCall: &FunctionCall{ID: "fc_1", Name: "native"}},
			{Text: `and <tool_use><name>embedded</name><args>{}</args></tool_use>`},
		}},
	}
	for i, c := range cases {
		before := ExtractFunctionCalls(c)
		normalized := c.Clone()
		NormalizeFunctionCalls(&normalized)
		after := ExtractFunctionCalls(normalized)
		if !reflect.DeepEqual(before, after) {
			t.Errorf("case %d: extraction changed by normalize:\nbefore: %+v\nafter:  %+v", i, before, after)
		}
	}
}

func TestExtractFunctionCalls_MalformedStaysText(t *testing.T) {
	cases := []string{
		`<tool_use><name>x</name>`,                      // no close tag
		`<tool_use><args>{}</args></tool_use>`,          // no name
		`<tool_use><name>x</name><args>nope</args></tool_use>`, // bad args JSON
		`[TOOL_CALL]not json[/TOOL_CALL]`,
		`[TOOL_CALL]{"parameters":{}}[/TOOL_CALL]`, // no tool name
	}
	for _, text := range cases {
		c := modelMessage(text)
		if calls := ExtractFunctionCalls(c); len(calls) != 0 {
			t.Errorf("extracted %d calls from malformed %q", len(calls), text)
		}
		NormalizeFunctionCalls(&c)
		if len(c.Parts) != 1 || c.Parts[0].Text != text {
			t.Errorf("malformed %q was rewritten: %+v", text, c.Parts)
		}
	}
}

func TestExtractFunctionCalls_MalformedBeforeValid(t *testing.T) {
	c := modelMessage(`<tool_use>broken <tool_use><name>ok</name><args>{}</args></tool_use>`)
	calls := ExtractFunctionCalls(c)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Name != "ok" {
		t.Errorf("call name = %q, want %q", calls[0].Name, "ok")
	}
}

func TestExtractFunctionCalls_SkipsThoughts(t *testing.T) {
	c := Content{Role: RoleModel, Parts: []Part{
		{Text: `<tool_use><name>x</name><args>{}</args></tool_use>`, Thought: true},
	}}
	if calls := ExtractFunctionCalls(c); len(calls) != 0 {
		t.Errorf("extracted %d calls from a thought part", len(calls))
	}
}

func TestEnsureCallIDs(t *testing.T) {
	c := Content{Role: RoleModel, Parts: []Part{
		{FunctionCall: &FunctionCall{Name: "a"}},
		{FunctionCall: &FunctionCall{ID: "provider_id", Name: "b"}},
		{FunctionCall: &FunctionCall{Name: "c"}},
	}}
	EnsureCallIDs(&c)

	idA := c.Parts[0].FunctionCall.ID
	idC := c.Parts[2].FunctionCall.ID
	if idA == "" || idC == "" {
		t.Fatal("expected synthesized ids for calls without one")
	}
	if idA == idC {
		t.Errorf("synthesized ids collide: %q", idA)
	}
	if got := c.Parts[1].FunctionCall.ID; got != "provider_id" {
		t.Errorf("existing id rewritten to %q", got)
	}

	// Re-running must not touch assigned ids.
	EnsureCallIDs(&c)
	if c.Parts[0].FunctionCall.ID != idA || c.Parts[2].FunctionCall.ID != idC {
		t.Error("EnsureCallIDs is not a no-op on assigned ids")
	}
}
