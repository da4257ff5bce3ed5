// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pdiddy/novelty-engine/internal/ledger"
	"github.com/pdiddy/novelty-engine/internal/oracle"
	"github.com/pdiddy/novelty-engine/internal/stage"
	"github.com/pdiddy/novelty-engine/pkg/types"
)

// MaxPromptManuscript bounds the manuscript text sent for classification.
const MaxPromptManuscript = 120000

// Classifier runs the classification stage.
type Classifier struct {
	Deps
}

// Run asks the oracle whether the manuscript discloses an invention.
func (c *Classifier) Run(ctx context.Context, item ledger.WorkItem) (stage.Output, error) {
	text, err := c.Manuscripts.Text(ctx, item)
	if err != nil {
		return stage.Output{}, err
	}
	prompt, err := render(classificationPromptTmpl, struct{ Manuscript string }{
		Manuscript: types.TruncateRunes(text, MaxPromptManuscript),
	})
	if err != nil {
		return stage.Output{}, fmt.Errorf("rendering classification prompt: %w", err)
	}

	cls, err := oracle.AskJSON[Classification](ctx, c.Oracle, c.Retry, "classification", prompt)
	if err != nil {
		return stage.Output{}, fmt.Errorf("classifying manuscript: %w", err)
	}
	c.logger().Info("manuscript classified", "id", item.ID, "status_determination", cls.StatusDetermination)

	value, err := json.Marshal(cls)
	if err != nil {
		return stage.Output{}, fmt.Errorf("encoding classification: %w", err)
	}
	return stage.Output{
		Value:  value,
		Fields: map[string]string{FieldStatusDetermination: cls.StatusDetermination},
	}, nil
}
