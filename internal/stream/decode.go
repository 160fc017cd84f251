package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Record is one decoded line. Exactly one Record is produced per
// well-formed line.
type Record struct {
	Role       string
	Content    string
	Done       bool
	DoneReason string
	Error      string
	Usage      *Usage
	ToolCalls  []ToolCall

	// Raw is the JSON object of the line, kept for provider-specific lookups.
	Raw []byte
}

// endMarker reports whether r only ends the stream, like SSE "[DONE]".
func (r *Record) endMarker() bool {
	return r.Done && r.Error == "" && r.Content == "" && len(r.ToolCalls) == 0 && r.Usage == nil
}

// wireRecord covers the Ollama chat, Ollama generate and OpenAI-compatible
// chunk shapes. Unknown fields are ignored.
type wireRecord struct {
	Message *struct {
		Role      string         `json:"role"`
		Content   string         `json:"content"`
		ToolCalls []wireToolCall `json:"tool_calls"`
	} `json:"message"`
	Response *string `json:"response"`

	Done            bool            `json:"done"`
	DoneReason      string          `json:"done_reason"`
	Error           json.RawMessage `json:"error"`
	PromptEvalCount int             `json:"prompt_eval_count"`
	EvalCount       int             `json:"eval_count"`

	Choices []struct {
		Delta struct {
			Role      string         `json:"role"`
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

var errNotObject = errors.New("not a JSON object")

// Decode parses one line. Blank lines and SSE framing lines yield
// (nil, nil); malformed lines yield a *DecodeError.
func Decode(line string) (*Record, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	if strings.HasPrefix(line, "data:") {
		line = strings.TrimSpace(line[len("data:"):])
		if line == "" {
			return nil, nil
		}
		if line == "[DONE]" {
			return &Record{Done: true, DoneReason: StopDone}, nil
		}
	} else if strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") ||
		strings.HasPrefix(line, "id:") || strings.HasPrefix(line, "retry:") {
		return nil, nil
	}

	raw := []byte(line)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, &DecodeError{Line: line, Err: errNotObject}
	}

	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Line: line, Err: err}
	}

	rec := &Record{
		Done:       w.Done,
		DoneReason: w.DoneReason,
		Raw:        raw,
	}

	if msg := decodeErrorField(w.Error); msg != "" {
		rec.Error = msg
		return rec, nil
	}

	switch {
	case w.Message != nil:
		rec.Role = w.Message.Role
		rec.Content = w.Message.Content
		rec.ToolCalls = convertToolCalls(w.Message.ToolCalls)
	case w.Response != nil:
		rec.Content = *w.Response
	case len(w.Choices) > 0:
		c := w.Choices[0]
		rec.Role = c.Delta.Role
		rec.Content = c.Delta.Content
		rec.ToolCalls = convertToolCalls(c.Delta.ToolCalls)
		if c.FinishReason != "" {
			rec.DoneReason = c.FinishReason
		}
	}

	switch {
	case w.Usage != nil:
		rec.Usage = &Usage{
			PromptTokens:     w.Usage.PromptTokens,
			CompletionTokens: w.Usage.CompletionTokens,
			TotalTokens:      w.Usage.TotalTokens,
		}
	case w.PromptEvalCount > 0 || w.EvalCount > 0:
		rec.Usage = &Usage{
			PromptTokens:     w.PromptEvalCount,
			CompletionTokens: w.EvalCount,
			TotalTokens:      w.PromptEvalCount + w.EvalCount,
		}
	}

	return rec, nil
}

// decodeErrorField accepts "error": "text" and "error": {"message": "text"}.
func decodeErrorField(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func convertToolCalls(in []wireToolCall) []ToolCall {
	if len(in) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(in))
	for _, tc := range in {
		out = append(out, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}
