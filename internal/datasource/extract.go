package datasource

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/fraudlens/pkg/models"
)

// Extraction confidence levels.
const (
	ConfidenceExact    = 1.0 // caption equals a known alias
	ConfidencePartial  = 0.8 // caption contains a known alias
	ConfidenceDerived  = 0.6 // computed from other extracted figures
	ConfidenceOverride = 1.0 // entered by the user
)

// ErrNoFigures is returned when a document contains no recognizable statement rows.
var ErrNoFigures = errors.New("no statement figures found")

var yearPattern = regexp.MustCompile(`\b(?:FY\s*)?((?:19|20)\d{2})\b`)

// labelMatch is the best field for one table caption.
type labelMatch struct {
	period     *periodField
	record     *recordField
	confidence float64
	aliasLen   int
}

// ExtractHTML pulls two-period statement figures out of an HTML document.
// Every table row whose first cell is a recognized caption contributes its
// first two amount columns as the current and prior values. Blank and dash
// cells hold their column, leaving that period unset. The column order is
// taken from the years in the header row when present (most recent first
// otherwise).
//
// The company name comes from <meta name="company">, falling back to the
// first <h1> and then <title>.
func ExtractHTML(r io.Reader) (*models.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse statement HTML: %w", err)
	}

	ex := &models.Extraction{Confidence: make(map[string]float64)}
	d := &ex.Data

	d.CompanyName = companyName(doc)
	years, ascending := headerYears(doc)
	if len(years) > 0 {
		d.FinancialYear = years[0]
	}
	doc.Find("caption, .unit, p, th").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if u, ok := NormalizeUnit(sel.Text()); ok {
			d.Unit = u
			return false
		}
		return true
	})

	found := 0
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 || row.Find("td").Length() == 0 {
			return
		}
		m, ok := matchLabel(normalizeLabel(cells.First().Text()))
		if !ok {
			return
		}

		// One slot per value column, so a blank cell keeps its period.
		var slots []*float64
		cells.Slice(1, goquery.ToEnd).Each(func(_ int, cell *goquery.Selection) {
			if len(slots) == 2 {
				return
			}
			v, ok, err := ParseAmount(cell.Text())
			switch {
			case err != nil:
				// Notes references and other text columns hold no period.
				return
			case ok:
				slots = append(slots, &v)
			default:
				slots = append(slots, nil)
			}
		})
		if ascending {
			if len(slots) == 1 {
				slots = append(slots, nil)
			}
			if len(slots) == 2 {
				slots[0], slots[1] = slots[1], slots[0]
			}
		}

		if m.record != nil {
			if len(slots) > 0 && slots[0] != nil && assign(ex, m.record.name, m.confidence) {
				*m.record.ptr(d) = *slots[0]
				found++
			}
			return
		}
		for i, period := range []*models.PeriodFigures{&d.Current, &d.Prior} {
			if i >= len(slots) || slots[i] == nil {
				continue
			}
			path := periodName(i) + "." + m.period.name
			if assign(ex, path, m.confidence) {
				m.period.set(period, *slots[i])
				found++
			}
		}
	})
	if found == 0 {
		return nil, ErrNoFigures
	}

	deriveMissing(ex)
	ex.Missing = missingFields(ex)
	return ex, nil
}

func periodName(i int) string {
	if i == 0 {
		return "current"
	}
	return "prior"
}

// assign claims path at confidence c unless an equal or better value is
// already recorded.
func assign(ex *models.Extraction, path string, c float64) bool {
	if prev, ok := ex.Confidence[path]; ok && prev >= c {
		return false
	}
	ex.Confidence[path] = c
	return true
}

func matchLabel(label string) (labelMatch, bool) {
	if label == "" {
		return labelMatch{}, false
	}

	var best labelMatch
	consider := func(alias string, pf *periodField, rf *recordField) {
		var c float64
		switch {
		case label == alias:
			c = ConfidenceExact
		case strings.Contains(" "+label+" ", " "+alias+" "):
			c = ConfidencePartial
		default:
			return
		}
		if c > best.confidence || (c == best.confidence && len(alias) > best.aliasLen) {
			best = labelMatch{period: pf, record: rf, confidence: c, aliasLen: len(alias)}
		}
	}

	for i := range periodFields {
		for _, a := range periodFields[i].aliases {
			consider(a, &periodFields[i], nil)
		}
	}
	for i := range recordFields {
		for _, a := range recordFields[i].aliases {
			consider(a, nil, &recordFields[i])
		}
	}
	return best, best.confidence > 0
}

func companyName(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[name="company"]`).Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if h := strings.TrimSpace(doc.Find("h1").First().Text()); h != "" {
		return h
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// headerYears returns the years of the first table header row carrying at
// least two, most recent first, and whether the columns run oldest first.
func headerYears(doc *goquery.Document) (years []int, ascending bool) {
	doc.Find("table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		var ys []int
		row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			if m := yearPattern.FindStringSubmatch(cell.Text()); m != nil && len(strings.TrimSpace(cell.Text())) <= 12 {
				y, _ := strconv.Atoi(m[1])
				ys = append(ys, y)
			}
		})
		if len(ys) < 2 {
			return true
		}
		years = ys
		return false
	})
	if len(years) >= 2 && years[0] < years[1] {
		ascending = true
		years[0], years[1] = years[1], years[0]
	}
	return years, ascending
}

// deriveMissing fills gross profit from COGS and SG&A from its parts when
// the aggregate rows are absent.
func deriveMissing(ex *models.Extraction) {
	d := &ex.Data
	for i, p := range []*models.PeriodFigures{&d.Current, &d.Prior} {
		prefix := periodName(i) + "."
		if p.GrossProfit == nil && p.CostOfGoodsSold != nil {
			if _, ok := ex.Confidence[prefix+"sales"]; ok {
				p.GrossProfit = models.Float(p.Sales - *p.CostOfGoodsSold)
				ex.Confidence[prefix+"gross_profit"] = ConfidenceDerived
			}
		}
		if p.SGAExpense == nil && (p.SellingExpense != nil || p.GeneralExpense != nil || p.AdministrativeExpense != nil) {
			p.SGAExpense = models.Float(p.SGAValue())
			ex.Confidence[prefix+"sga_expense"] = ConfidenceDerived
		}
	}
}

// requiredPaths are the inputs every ratio needs, in report order.
func requiredPaths() []string {
	var paths []string
	for _, period := range []string{"current", "prior"} {
		for _, f := range periodFields {
			if f.required || f.name == "gross_profit" || f.name == "sga_expense" {
				paths = append(paths, period+"."+f.name)
			}
		}
	}
	for _, f := range recordFields {
		paths = append(paths, f.name)
	}
	return paths
}

func missingFields(ex *models.Extraction) []string {
	var missing []string
	for _, p := range requiredPaths() {
		if _, ok := ex.Confidence[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}
