package workflows

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/relay-run/relay/internal/activities"
)

// completion sentinel names the model may use to finish the task.
var completionNames = []string{"task_complete", "completion", "complete_task"}

// IsCompletionCall reports whether a tool call is the completion sentinel.
func IsCompletionCall(name string) bool {
	lower := strings.ToLower(name)
	for _, c := range completionNames {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// CompletionResult pulls the final answer out of a completion call's
// arguments, falling back through the common key spellings.
func CompletionResult(args map[string]interface{}) string {
	for _, key := range []string{"result", "response", "answer", "summary"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ExtractToolCalls pulls tool invocations out of an LLM turn. The response
// is untrusted: prefer the structured tool_calls field, then scan the
// content for embedded JSON invocations (repairing malformed JSON), and
// finally recognize a bare completion sentinel by name substring.
func ExtractToolCalls(res *activities.LLMResult) []activities.ToolCall {
	if len(res.ToolCalls) > 0 {
		out := make([]activities.ToolCall, len(res.ToolCalls))
		copy(out, res.ToolCalls)
		for i := range out {
			if out[i].ID == "" {
				out[i].ID = fmt.Sprintf("call_%d", i)
			}
			if out[i].Arguments == nil {
				out[i].Arguments = map[string]interface{}{}
			}
		}
		return out
	}
	return parseEmbeddedCalls(res.Content)
}

// parseEmbeddedCalls scans message content for JSON tool invocations.
func parseEmbeddedCalls(content string) []activities.ToolCall {
	var out []activities.ToolCall
	for i, candidate := range jsonCandidates(content) {
		obj := decodeObject(candidate)
		if obj == nil {
			continue
		}
		if call, ok := callFromObject(obj, i); ok {
			out = append(out, call)
		}
	}
	if len(out) > 0 {
		return out
	}

	// Last resort: the model named the sentinel without valid JSON around it.
	lower := strings.ToLower(content)
	for _, c := range completionNames {
		if strings.Contains(lower, `"`+c+`"`) || strings.Contains(lower, c+"(") {
			return []activities.ToolCall{{
				ID:        "call_0",
				Name:      "task_complete",
				Arguments: map[string]interface{}{"result": content},
			}}
		}
	}
	return nil
}

// jsonCandidates returns substrings that look like JSON objects: fenced
// code blocks first, then balanced top-level brace spans.
func jsonCandidates(content string) []string {
	var out []string
	rest := content
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		rest = rest[start+3:]
		rest = strings.TrimPrefix(rest, "json")
		end := strings.Index(rest, "```")
		if end < 0 {
			break
		}
		out = append(out, strings.TrimSpace(rest[:end]))
		rest = rest[end+3:]
	}

	depth, start := 0, -1
	inString, escaped := false, false
	for i, r := range content {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, content[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

// decodeObject parses candidate JSON, repairing it if a straight parse
// fails.
func decodeObject(candidate string) map[string]interface{} {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
		return obj
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil
	}
	return obj
}

// callFromObject recognizes the common invocation shapes:
// {"tool": n, "arguments": {...}} and {"name": n, "parameters": {...}}.
func callFromObject(obj map[string]interface{}, idx int) (activities.ToolCall, bool) {
	name := ""
	for _, key := range []string{"tool", "name", "tool_name", "function"} {
		if v, ok := obj[key].(string); ok && v != "" {
			name = v
			break
		}
	}
	if name == "" {
		return activities.ToolCall{}, false
	}

	args := map[string]interface{}{}
	for _, key := range []string{"arguments", "args", "parameters", "input"} {
		if v, ok := obj[key].(map[string]interface{}); ok {
			args = v
			break
		}
	}
	return activities.ToolCall{
		ID:        fmt.Sprintf("call_%d", idx),
		Name:      name,
		Arguments: args,
	}, true
}
