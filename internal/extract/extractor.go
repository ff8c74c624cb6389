package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/patent-crawler/internal/dom"
)

// FieldSpec names a field and the tactics used to read it, in order.
type FieldSpec struct {
	Field   string
	Tactics []Tactic
	// Multiline keeps one entry per line instead of collapsing to one line.
	Multiline bool
}

// Result reports the outcome of extracting one field.
type Result struct {
	Field string
	Text  string
	// Tactic names the tactic that produced Text; empty when none did.
	Tactic string
	// Failures holds the errors (and recovered panics) of tactics that failed.
	Failures []error
}

// Empty reports whether every tactic came up empty.
func (r Result) Empty() bool {
	return r.Text == ""
}

// Extractor runs field specs against documents.
type Extractor struct {
	logger *zap.Logger
}

// New builds an Extractor. A nil logger disables tactic-level debug logs.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract tries spec's tactics in order and returns the first non-empty
// normalized text. It never panics and never returns an error.
func (e *Extractor) Extract(ctx context.Context, doc *dom.Document, spec FieldSpec) Result {
	res := Result{Field: spec.Field}
	if doc == nil {
		return res
	}
	for _, tactic := range spec.Tactics {
		text, err := runTactic(ctx, doc, tactic)
		if err != nil {
			e.logger.Debug("tactic failed",
				zap.String("field", spec.Field),
				zap.String("tactic", tactic.Name),
				zap.Error(err),
			)
			res.Failures = append(res.Failures, err)
			continue
		}
		if spec.Multiline {
			text = NormalizeLines(text)
		} else {
			text = Normalize(text)
		}
		if text != "" {
			res.Text = text
			res.Tactic = tactic.Name
			return res
		}
	}
	return res
}

func runTactic(ctx context.Context, doc *dom.Document, tactic Tactic) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("tactic %s panicked: %v", tactic.Name, r)
		}
	}()
	if tactic.Apply == nil {
		return "", fmt.Errorf("tactic %s has no apply func", tactic.Name)
	}
	return tactic.Apply(ctx, doc)
}
