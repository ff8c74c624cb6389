// Package detail runs the second phase of an extraction: it visits each
// candidate's detail page in order and fills the record field by field.
package detail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/dom"
	"github.com/JakeFAU/patent-crawler/internal/extract"
	"github.com/JakeFAU/patent-crawler/internal/progress"
)

// DefaultWaitSelector is the readiness condition for detail pages.
const DefaultWaitSelector = "section#abstract, section#claims"

// Config controls the detail walk.
type Config struct {
	// PolitenessDelay is the pause after every detail fetch.
	PolitenessDelay time.Duration
	WaitSelector    string
	// Fields overrides extract.DetailFields.
	Fields []extract.FieldSpec
}

// Walker enriches candidates into records.
type Walker struct {
	cfg       Config
	extractor *extract.Extractor
	pauser    crawler.Pauser
	logger    *zap.Logger
}

// NewWalker builds a Walker. pauser is required; the others have defaults.
func NewWalker(cfg Config, extractor *extract.Extractor, pauser crawler.Pauser, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = extract.New(logger)
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = DefaultWaitSelector
	}
	if cfg.Fields == nil {
		cfg.Fields = extract.DetailFields()
	}
	return &Walker{cfg: cfg, extractor: extractor, pauser: pauser, logger: logger}
}

// WithDelay returns a copy of w that pauses for delay after each fetch.
func (w *Walker) WithDelay(delay time.Duration) *Walker {
	cp := *w
	cp.cfg.PolitenessDelay = delay
	return &cp
}

// Enrich returns one record per candidate, in input order. A failed fetch
// keeps the candidate with empty detail fields.
func (w *Walker) Enrich(
	ctx context.Context,
	fetcher crawler.Fetcher,
	candidates []crawler.PatentCandidate,
	emit progress.Emitter,
) []crawler.PatentRecord {
	if emit == nil {
		emit = progress.Discard
	}
	mode := string(fetcher.Mode())
	records := make([]crawler.PatentRecord, 0, len(candidates))
	for i, cand := range candidates {
		rec := crawler.RecordFromCandidate(cand)
		emit.Emit(progress.Event{
			Level:   progress.LevelInfo,
			Stage:   progress.StageDetailStart,
			Message: fmt.Sprintf("detail %d/%d: %s", i+1, len(candidates), cand.PatentID),
			URL:     cand.DetailURL,
			Mode:    mode,
		})
		start := time.Now()
		doc, err := fetcher.Fetch(ctx, crawler.FetchRequest{URL: cand.DetailURL, WaitSelector: w.cfg.WaitSelector})
		if err != nil {
			emit.Emit(progress.Event{
				Level:   progress.LevelWarn,
				Stage:   progress.StageDetailFailed,
				Message: fmt.Sprintf("detail fetch failed: %v", err),
				URL:     cand.DetailURL,
				Mode:    mode,
				Dur:     time.Since(start),
			})
		} else {
			empty := w.fill(ctx, doc, &rec, emit)
			if cerr := doc.Close(); cerr != nil {
				w.logger.Debug("close detail document", zap.String("url", cand.DetailURL), zap.Error(cerr))
			}
			emit.Emit(progress.Event{
				Level:   progress.LevelInfo,
				Stage:   progress.StageDetailDone,
				Message: detailSummary(empty),
				URL:     cand.DetailURL,
				Mode:    mode,
				Count:   len(empty),
				Dur:     time.Since(start),
			})
		}
		records = append(records, rec)
		if w.pauser != nil {
			w.pauser.Pause(ctx, w.cfg.PolitenessDelay)
		}
	}
	return records
}

// fill extracts every configured field into rec and returns the names of the
// fields that came up empty.
func (w *Walker) fill(ctx context.Context, doc *dom.Document, rec *crawler.PatentRecord, emit progress.Emitter) []string {
	var empty []string
	for _, spec := range w.cfg.Fields {
		if spec.Field == extract.FieldTitle && rec.Title != "" {
			continue
		}
		res := w.extractField(ctx, doc, spec)
		if res.Empty() {
			empty = append(empty, spec.Field)
			emit.Emit(progress.Event{
				Level:   progress.LevelWarn,
				Stage:   progress.StageFieldEmpty,
				Message: fieldMessage(res),
				URL:     doc.URL(),
				Field:   spec.Field,
			})
			continue
		}
		assign(rec, spec.Field, res.Text)
	}
	return empty
}

// extractField isolates one field so a failure cannot reach its siblings.
func (w *Walker) extractField(ctx context.Context, doc *dom.Document, spec extract.FieldSpec) (res extract.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = extract.Result{Field: spec.Field, Failures: []error{fmt.Errorf("field %s panicked: %v", spec.Field, r)}}
		}
	}()
	return w.extractor.Extract(ctx, doc, spec)
}

// assign writes a non-empty value. The detail abstract replaces the search
// snippet; title only fills a gap.
func assign(rec *crawler.PatentRecord, field, value string) {
	switch field {
	case extract.FieldTitle:
		if rec.Title == "" {
			rec.Title = value
		}
	case extract.FieldAbstract:
		rec.Abstract = value
	case extract.FieldClaims:
		rec.Claims = value
	case extract.FieldDescription:
		rec.Description = value
	case extract.FieldInventor:
		rec.Inventor = value
	case extract.FieldAssignee:
		rec.Assignee = value
	case extract.FieldClassification:
		rec.Classification = value
	case extract.FieldCitations:
		rec.Citations = value
	case extract.FieldDatePublished:
		rec.DatePublished = value
	}
}

func fieldMessage(res extract.Result) string {
	if len(res.Failures) == 0 {
		return "no tactic matched " + res.Field
	}
	msgs := make([]string, 0, len(res.Failures))
	for _, err := range res.Failures {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("no tactic matched %s (%s)", res.Field, strings.Join(msgs, "; "))
}

func detailSummary(empty []string) string {
	if len(empty) == 0 {
		return "detail extracted"
	}
	return "detail extracted; empty: " + strings.Join(empty, ", ")
}
