package extract

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the terminal processing status of one document.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Method records which extraction stage produced the accepted values.
type Method string

const (
	MethodHeuristic  Method = "heuristic"
	MethodAIAssisted Method = "ai-assisted"
	MethodNone       Method = "none"
)

// InvoiceRecord is the final structured result for one document. Created once
// at the end of the pipeline and never mutated; a re-run produces a new
// record. A failed record carries no field values at all: absence is explicit,
// never an empty string masquerading as data.
type InvoiceRecord struct {
	Fingerprint string

	InvoiceNumber string
	IssueDate     string // YYYY-MM-DD
	SellerName    string
	BuyerName     string
	Total         *decimal.Decimal
	Tax           *decimal.Decimal

	Status       Status
	Missing      []string // canonical names of unresolved fields
	Method       Method
	ErrorMessage string
	ProcessedAt  time.Time
}

// HasMandatory reports whether the mandatory pair (invoice number and total)
// is present, the minimum for a record to be useful.
func (r *InvoiceRecord) HasMandatory() bool {
	return r.InvoiceNumber != "" && r.Total != nil
}
