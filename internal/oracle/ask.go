// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package oracle

import (
	"context"
	"strings"

	"github.com/pdiddy/novelty-engine/internal/backoff"
)

// Validator is implemented by parsed results that can reject themselves,
// e.g. when a required key is missing. A validation error is retried like a
// parse error.
type Validator interface {
	Validate() error
}

// AskJSON invokes o and decodes the reply into a T, retrying under p when
// the call fails or the reply does not parse or validate. After the last
// attempt the final error is returned unchanged.
func AskJSON[T any](ctx context.Context, o Oracle, p backoff.Policy, name, prompt string) (T, error) {
	return backoff.Do(ctx, name, p, func(ctx context.Context) (T, error) {
		var out T
		text, err := o.Invoke(ctx, prompt)
		if err != nil {
			return out, err
		}
		if err := DecodeJSON(text, &out); err != nil {
			return out, err
		}
		if v, ok := any(&out).(Validator); ok {
			if err := v.Validate(); err != nil {
				return out, &MalformedOutputError{Raw: text, Err: err}
			}
		}
		return out, nil
	})
}

// AskText invokes o and returns the trimmed, unfenced reply, retrying under
// p on errors and empty replies.
func AskText(ctx context.Context, o Oracle, p backoff.Policy, name, prompt string) (string, error) {
	return backoff.Do(ctx, name, p, func(ctx context.Context) (string, error) {
		text, err := o.Invoke(ctx, prompt)
		if err != nil {
			return "", err
		}
		text = StripFences(text)
		if strings.TrimSpace(text) == "" {
			return "", ErrNoResponse
		}
		return text, nil
	})
}
