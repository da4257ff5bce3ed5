// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package oracle talks to the language model that does the pipeline's
// judgement work. The model is opaque: a prompt goes in and text comes out.
// Callers parse the text at one boundary (DecodeJSON) and treat a parse
// failure as retryable.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoResponse is returned when the model produced no usable text.
var ErrNoResponse = errors.New("oracle returned no response")

// Oracle answers prompts.
type Oracle interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, prompt string) (string, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// MalformedOutputError reports text that did not parse into the expected
// structure. Raw holds the text as received.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed oracle output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// StripFences removes a surrounding Markdown code fence, including a
// language tag such as ```json, and trims whitespace.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		tag := strings.TrimSpace(text[:nl])
		if tag == "" || !strings.ContainsAny(tag, "{[\"") {
			text = text[nl+1:]
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// DecodeJSON parses text into v after stripping code fences. Any failure is
// returned as a *MalformedOutputError.
func DecodeJSON(text string, v any) error {
	body := StripFences(text)
	if body == "" {
		return &MalformedOutputError{Raw: text, Err: errors.New("empty output")}
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return &MalformedOutputError{Raw: text, Err: err}
	}
	return nil
}
