// Package extract turns aggregated OCR text blocks into typed invoice
// records. A heuristic rule pass runs first; an AI parsing pass refines only
// what the rules could not resolve confidently. The two stages are
// complementary: confident heuristic matches are never overwritten, and
// heuristic values backfill fields the AI also leaves unresolved.
//
// Status derivation: a record is failed when a mandatory field (invoice
// number or total) is unresolved, and then carries no field values at all;
// partial when the issue date or tax is unresolved, or when AI refinement was
// needed but unavailable. Unresolved seller/buyer names alone do not demote
// the status; they are only reported in Missing.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haoyun/invoice-ocr/internal/ocr"
)

// Extractor drives the two-stage field extraction.
type Extractor struct {
	fields  []Field
	ai      Parser // nil disables the refinement stage
	pick    PickCandidate
	minConf float64
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithAI enables AI-assisted refinement.
func WithAI(p Parser) Option {
	return func(e *Extractor) { e.ai = p }
}

// WithFields replaces the default field table.
func WithFields(fields []Field) Option {
	return func(e *Extractor) {
		if len(fields) > 0 {
			e.fields = fields
		}
	}
}

// WithPick overrides candidate tie-breaking.
func WithPick(pick PickCandidate) Option {
	return func(e *Extractor) { e.pick = pick }
}

// WithMinAIConfidence sets the confidence under which a heuristic match is
// considered weak enough to refine. Default 0.70.
func WithMinAIConfidence(c float64) Option {
	return func(e *Extractor) {
		if c > 0 {
			e.minConf = c
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

func NewExtractor(logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		fields:  DefaultFields(),
		minConf: 0.70,
		logger:  logger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// AggregateText concatenates block texts in page-index order, preserving
// within-page service order. This is the only text the extractor ever sees.
func AggregateText(blocks []ocr.TextBlock) string {
	sorted := make([]ocr.TextBlock, len(blocks))
	copy(sorted, blocks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PageIndex < sorted[j].PageIndex
	})
	parts := make([]string, len(sorted))
	for i, b := range sorted {
		parts[i] = b.Text
	}
	return strings.Join(parts, "\n")
}

// Extract produces the document's InvoiceRecord. It never returns a hard
// error for missing fields: unusable input yields a failed-status record.
func (e *Extractor) Extract(ctx context.Context, fingerprint string, blocks []ocr.TextBlock) InvoiceRecord {
	text := AggregateText(blocks)
	heur := runHeuristics(text, e.fields, e.pick)

	e.logger.Debug("extract.heuristic_done",
		"fingerprint", fingerprint,
		"resolved", len(heur),
		"fields", len(e.fields),
	)

	var (
		aiValues map[string]string
		aiFailed bool
		aiNeeded = e.needsRefinement(heur)
	)
	if aiNeeded && e.ai != nil {
		values, conf, err := e.ai.ParseFields(ctx, text, e.fields)
		switch {
		case err != nil:
			// Non-fatal: fall back to the heuristic-only result.
			aiFailed = true
			e.logger.Warn("extract.ai_failed", "fingerprint", fingerprint, "error", err)
		case conf < e.minConf:
			// Low-confidence AI output still fills gaps but is logged.
			aiValues = values
			e.logger.Warn("extract.ai_low_confidence",
				"fingerprint", fingerprint, "confidence", conf)
		default:
			aiValues = values
		}
	}

	final, method := e.merge(heur, aiValues)
	e.deriveTax(text, final)
	return e.buildRecord(fingerprint, final, method, aiNeeded && aiFailed)
}

// needsRefinement reports whether any field is unresolved or resolved only by
// a weak (unlabeled) rule.
func (e *Extractor) needsRefinement(heur map[string]fieldMatch) bool {
	for _, f := range e.fields {
		m, ok := heur[f.Name]
		if !ok || m.Weight < strongWeight {
			return true
		}
	}
	return false
}

// merge combines the two stages. Strong heuristic matches win outright; the
// AI fills unresolved and weak fields; weak heuristic matches backfill
// whatever the AI also left open.
func (e *Extractor) merge(heur map[string]fieldMatch, ai map[string]string) (map[string]string, Method) {
	final := make(map[string]string, len(e.fields))
	usedAI := false
	for _, f := range e.fields {
		h, hOK := heur[f.Name]
		a, aOK := ai[f.Name]
		switch {
		case hOK && h.Weight >= strongWeight:
			final[f.Name] = h.Value
		case aOK:
			final[f.Name] = a
			usedAI = true
		case hOK:
			final[f.Name] = h.Value
		}
	}
	switch {
	case len(final) == 0:
		return final, MethodNone
	case usedAI:
		return final, MethodAIAssisted
	default:
		return final, MethodHeuristic
	}
}

// deriveTax computes the tax from total minus a stated pre-tax amount when no
// explicit tax line was found.
func (e *Extractor) deriveTax(text string, final map[string]string) {
	if _, ok := final[FieldTaxAmount]; ok {
		return
	}
	totalStr, ok := final[FieldTotalAmount]
	if !ok {
		return
	}
	m := preTaxAmount.FindStringSubmatch(text)
	if m == nil {
		return
	}
	preTax, err := NormalizeAmount(m[1])
	if err != nil {
		return
	}
	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return
	}
	tax := total.Sub(preTax)
	if tax.IsNegative() {
		return
	}
	final[FieldTaxAmount] = tax.String()
}

func (e *Extractor) buildRecord(fingerprint string, final map[string]string, method Method, aiDegraded bool) InvoiceRecord {
	rec := InvoiceRecord{
		Fingerprint: fingerprint,
		Method:      method,
		ProcessedAt: e.now(),
	}

	var missing []string
	for _, f := range e.fields {
		if _, ok := final[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	rec.Missing = missing

	mandatoryMissing := false
	for _, f := range e.fields {
		if f.Mandatory {
			if _, ok := final[f.Name]; !ok {
				mandatoryMissing = true
			}
		}
	}
	if mandatoryMissing {
		// No field values at all on a failed record: nothing half-extracted
		// may be mistaken for real data downstream.
		rec.Status = StatusFailed
		rec.ErrorMessage = fmt.Sprintf("mandatory fields unresolved: %s", strings.Join(missing, ", "))
		return rec
	}

	rec.InvoiceNumber = final[FieldInvoiceNumber]
	rec.SellerName = final[FieldSellerName]
	rec.BuyerName = final[FieldBuyerName]
	rec.IssueDate = final[FieldIssueDate]
	if v, ok := final[FieldTotalAmount]; ok {
		if d, err := decimal.NewFromString(v); err == nil {
			rec.Total = &d
		}
	}
	if v, ok := final[FieldTaxAmount]; ok {
		if d, err := decimal.NewFromString(v); err == nil {
			rec.Tax = &d
		}
	}

	_, dateOK := final[FieldIssueDate]
	_, taxOK := final[FieldTaxAmount]
	if !dateOK || !taxOK || aiDegraded {
		rec.Status = StatusPartial
		if aiDegraded {
			rec.ErrorMessage = "ai refinement unavailable, heuristic-only result"
		}
	} else {
		rec.Status = StatusOK
	}
	return rec
}
