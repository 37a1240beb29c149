package tools

import (
	"encoding/json"
	"errors"
)

// Result is the JSON object fed back to the model as a tool message.
// Every result carries "success" and either a payload or an "error".
type Result map[string]any

// OK returns a successful result with the given payload fields.
func OK(fields map[string]any) Result {
	r := Result{"success": true}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

// Failure converts err into a failure result tagged with its kind.
func Failure(err error) Result {
	if err == nil {
		err = errors.New("unknown error")
	}
	r := Result{
		"success":    false,
		"error":      err.Error(),
		"error_kind": KindOf(err),
	}
	var d Detailed
	if errors.As(err, &d) {
		for k, v := range d.Detail() {
			r[k] = v
		}
	}
	return r
}

// KindOf classifies err for failure results.
func KindOf(err error) string {
	var k Kinded
	switch {
	case errors.As(err, &k):
		return k.Kind()
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnknownTool):
		return "unknown_tool"
	default:
		return "tool_failure"
	}
}

// Succeeded reports the result's success flag. Results without the flag
// count as successful unless they carry an error.
func (r Result) Succeeded() bool {
	if v, ok := r["success"].(bool); ok {
		return v
	}
	_, hasErr := r["error"]
	return !hasErr
}

// Error returns the result's error text, if any.
func (r Result) Error() string {
	s, _ := r["error"].(string)
	return s
}

// String renders the result as compact JSON for the conversation.
func (r Result) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"unencodable tool result"}`
	}
	return string(b)
}
