package extract

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"doc-queue/internal/models"
)

var (
	companyPattern  = regexp.MustCompile(`(?i)Company:\s*(.+)`)
	emailPattern    = regexp.MustCompile(`(?i)Email:\s*(\S+)`)
	invoicePattern  = regexp.MustCompile(`(?i)Invoice\s*#\s*:\s*([A-Z0-9-]+)`)
	datePattern     = regexp.MustCompile(`(?i)Date:\s*(\d{4}-\d{2}-\d{2})`)
	amountPattern   = regexp.MustCompile(`(?i)Amount:\s*\$?([\d,]+\.?\d*)`)
	currencyPattern = regexp.MustCompile(`(?i)Currency:\s*([A-Z]{3})`)
)

const patternFieldCount = 6

// PatternExtractor matches labelled invoice fields with regular expressions.
// Confidence is the share of the six fields found.
type PatternExtractor struct{}

func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{}
}

func (p *PatternExtractor) ExtractMetadata(ctx context.Context, text string) (*models.InvoiceMetadata, error) {
	var m models.InvoiceMetadata
	found := 0

	match := func(re *regexp.Regexp) *string {
		sub := re.FindStringSubmatch(text)
		if sub == nil {
			return nil
		}
		v := strings.TrimSpace(sub[1])
		if v == "" {
			return nil
		}
		found++
		return &v
	}

	m.CustomerName = match(companyPattern)
	m.CustomerEmail = match(emailPattern)
	m.InvoiceNumber = match(invoicePattern)
	m.InvoiceDate = match(datePattern)
	if amount := match(amountPattern); amount != nil {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(*amount, ",", ""), 64); err == nil {
			m.TotalAmount = &v
		}
	}
	m.Currency = match(currencyPattern)

	m.ExtractionConfidence = int(math.Round(float64(found) / patternFieldCount * 100))
	return &m, nil
}
