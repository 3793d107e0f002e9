package recorder

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Separator is the literal printed between records when multiple replay
// scripts are rendered together.
const Separator = "<<<<<<-- cut here -->>>>>>"

// RenderScript renders one record as fluent registration code: the
// scope declaration, header-match clauses, the method invocation with
// any captured request body, and the reply clause with status, body and
// headers. Binary payloads render through intercept.HexBytes so the
// generated code replays them losslessly.
func RenderScript(rec Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "engine.Scope(%q).\n", rec.Scope)
	for _, name := range sortedKeys(rec.ReqHeaders) {
		fmt.Fprintf(&b, "\tMatchHeader(%q, %q).\n", name, rec.ReqHeaders[name])
	}

	verb, ok := methodVerb(rec.Method)
	bodyArg := scriptPayload(rec.Body, rec.BodyEncoding)
	switch {
	case !ok && bodyArg != "":
		fmt.Fprintf(&b, "\tIntercept(%q, match.Exact(%q), %s).\n", rec.Method, rec.Path, bodyArg)
	case !ok:
		fmt.Fprintf(&b, "\tIntercept(%q, match.Exact(%q)).\n", rec.Method, rec.Path)
	case bodyArg != "":
		fmt.Fprintf(&b, "\t%s(%q, %s).\n", verb, rec.Path, bodyArg)
	default:
		fmt.Fprintf(&b, "\t%s(%q).\n", verb, rec.Path)
	}

	fmt.Fprintf(&b, "\tReply(%d)", rec.Status)
	if arg := replyPayload(rec.Response, rec.ResponseEncoding); arg != "" {
		fmt.Fprintf(&b, ".\n\t%s", arg)
	}
	for _, name := range sortedKeys(rec.Headers) {
		fmt.Fprintf(&b, ".\n\tHeader(%q, %q)", name, rec.Headers[name])
	}
	return b.String()
}

// JoinScripts joins rendered scripts with the Separator literal.
func JoinScripts(scripts []string) string {
	return strings.Join(scripts, "\n"+Separator+"\n")
}

func methodVerb(method string) (string, bool) {
	switch strings.ToUpper(method) {
	case "GET":
		return "Get", true
	case "POST":
		return "Post", true
	case "PUT":
		return "Put", true
	case "PATCH":
		return "Patch", true
	case "DELETE":
		return "Delete", true
	case "HEAD":
		return "Head", true
	case "OPTIONS":
		return "Options", true
	default:
		return "", false
	}
}

// scriptPayload renders a captured request body as a Go argument.
func scriptPayload(v any, encoding string) string {
	switch {
	case v == nil:
		return ""
	case encoding == EncodingHex:
		return fmt.Sprintf("intercept.HexBytes(%q)", v)
	}
	if s, ok := v.(string); ok {
		return goString(s)
	}
	text, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return goString(string(text))
}

// replyPayload renders a captured response body as a reply-builder call.
func replyPayload(v any, encoding string) string {
	switch {
	case v == nil:
		return ""
	case encoding == EncodingHex:
		return fmt.Sprintf("Body(intercept.HexBytes(%q))", v)
	}
	if s, ok := v.(string); ok {
		return fmt.Sprintf("BodyString(%s)", goString(s))
	}
	text, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("JSON(%s)", goString(string(text)))
}

// goString renders s as a Go string literal, preferring a raw literal
// for payloads full of quotes.
func goString(s string) string {
	if strings.Contains(s, `"`) && !strings.Contains(s, "`") && !strings.Contains(s, "\n") {
		return "`" + s + "`"
	}
	return strconv.Quote(s)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
