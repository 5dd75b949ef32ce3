package extract

import "regexp"

// FieldKind drives normalization and validation of extracted values.
type FieldKind string

const (
	KindText   FieldKind = "text"
	KindDate   FieldKind = "date"
	KindAmount FieldKind = "amount"
)

// Canonical field names. The extractor, the AI schema, and the export layer
// all key on these.
const (
	FieldInvoiceNumber = "invoice_number"
	FieldIssueDate     = "issue_date"
	FieldSellerName    = "seller_name"
	FieldBuyerName     = "buyer_name"
	FieldTotalAmount   = "total_amount"
	FieldTaxAmount     = "tax_amount"
)

// Rule is one labeled pattern for a field. Weight expresses label proximity
// quality: a match anchored to an explicit label outranks a bare pattern
// found anywhere in the text.
type Rule struct {
	Pattern *regexp.Regexp
	Weight  float64
}

// Field describes one extractable invoice field. The set is a table rather
// than hardcoded logic so callers can add fields or swap rules.
type Field struct {
	Name        string
	Kind        FieldKind
	Description string // fed to the AI parsing prompt
	Mandatory   bool   // record is failed without it
	Rules       []Rule
}

// strongWeight is the threshold above which a heuristic match is trusted as
// ground truth and never overwritten by the AI stage.
const strongWeight = 0.7

// amount matches "10,600.00", "600", "1 234,56" style figures.
const amountPat = `(\d+(?:[,.\x{00A0} ]\d{3})*(?:[.,]\d{1,2})?)`

// DefaultFields returns the standard six-field table for Chinese VAT
// invoices, with English label fallbacks.
func DefaultFields() []Field {
	return []Field{
		{
			Name:        FieldInvoiceNumber,
			Kind:        KindText,
			Description: "发票号码 (invoice number): unique 8-20 character alphanumeric identifier",
			Mandatory:   true,
			Rules: []Rule{
				{regexp.MustCompile(`发票号码[:：]?\s*(\w+)`), 1.0},
				{regexp.MustCompile(`(?i)Invoice\s*No\.?\s*[:：]?\s*(\w+)`), 0.9},
				{regexp.MustCompile(`(?i)No\.\s*[:：]?\s*(\w+)`), 0.8},
				{regexp.MustCompile(`(\d{8,12})`), 0.3},
			},
		},
		{
			Name:        FieldIssueDate,
			Kind:        KindDate,
			Description: "开票日期 (issue date), normalized to YYYY-MM-DD",
			Rules: []Rule{
				{regexp.MustCompile(`开票日期[:：]?\s*(\d{4}[-/年]\d{1,2}[-/月]\d{1,2}日?)`), 1.0},
				{regexp.MustCompile(`(?i)Date[:：]?\s*(\d{4}[-/]\d{1,2}[-/]\d{1,2})`), 0.9},
				{regexp.MustCompile(`(\d{4}[-/年]\d{1,2}[-/月]\d{1,2}日?)`), 0.3},
			},
		},
		{
			Name:        FieldSellerName,
			Kind:        KindText,
			Description: "销售方名称 (seller name): full company name of the issuing party",
			Rules: []Rule{
				{regexp.MustCompile(`销售方(?:名称)?[:：]?\s*([^开票方购买方收款付款\s]{2,20})`), 1.0},
				{regexp.MustCompile(`收款人[:：]?\s*([^开票方购买方收款付款\s]{2,20})`), 0.9},
				{regexp.MustCompile(`(?i)Seller[:：]?\s*([^\n]{2,30})`), 0.8},
			},
		},
		{
			Name:        FieldBuyerName,
			Kind:        KindText,
			Description: "购买方名称 (buyer name): full company name of the receiving party",
			Rules: []Rule{
				{regexp.MustCompile(`购买方(?:名称)?[:：]?\s*([^开票方销售方收款付款\s]{2,20})`), 1.0},
				{regexp.MustCompile(`付款人[:：]?\s*([^开票方销售方收款付款\s]{2,20})`), 0.9},
				{regexp.MustCompile(`(?i)Buyer[:：]?\s*([^\n]{2,30})`), 0.8},
			},
		},
		{
			Name:        FieldTotalAmount,
			Kind:        KindAmount,
			Description: "价税合计 (tax-inclusive total): plain number, no currency symbol",
			Mandatory:   true,
			Rules: []Rule{
				{regexp.MustCompile(`价税合计[^0-9￥¥\n]*[￥¥]?\s*` + amountPat), 1.0},
				{regexp.MustCompile(`合计金额[^0-9￥¥\n]*[￥¥]?\s*` + amountPat), 0.95},
				{regexp.MustCompile(`(?i)Total[:：]?\s*[￥¥$]?\s*` + amountPat), 0.8},
				{regexp.MustCompile(`[￥¥]\s*` + amountPat), 0.4},
			},
		},
		{
			Name:        FieldTaxAmount,
			Kind:        KindAmount,
			Description: "税额 (VAT amount): plain number, no currency symbol",
			Rules: []Rule{
				{regexp.MustCompile(`税额[^0-9￥¥\n]*[￥¥]?\s*` + amountPat), 1.0},
				{regexp.MustCompile(`增值税[^0-9￥¥\n]*[￥¥]?\s*` + amountPat), 0.9},
				{regexp.MustCompile(`(?i)Tax[:：]?\s*[￥¥$]?\s*` + amountPat), 0.8},
			},
		},
	}
}

// preTaxAmount finds a 不含税金额 (pre-tax amount) line; used to derive the
// tax when the invoice states total and pre-tax but no explicit tax line.
var preTaxAmount = regexp.MustCompile(`不含税金额[^0-9￥¥\n]*[￥¥]?\s*` + amountPat)

// FieldNames returns the canonical names of a field table in order.
func FieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
