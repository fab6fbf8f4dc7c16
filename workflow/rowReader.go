package workflow

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// headerAliases maps cleaning-schedule column headers to row fields. Lookup
// is case-insensitive on the trimmed header. One fixed layout, not general
// spreadsheet support.
var headerAliases = map[string]string{
	"guest name":    "guest_name",
	"guest":         "guest_name",
	"guest contact": "guest_contact",
	"contact":       "guest_contact",
	"property":      "property_label",
	"property name": "property_label",
	"listing":       "property_label",
	"source":        "source",
	"platform":      "source",
	"channel":       "source",
	"code":          "external_code",
	"booking code":  "external_code",
	"confirmation":  "external_code",
	"status":        "external_status",
	"check-in":      "check_in",
	"check in":      "check_in",
	"checkin":       "check_in",
	"start date":    "check_in",
	"check-out":     "check_out",
	"check out":     "check_out",
	"checkout":      "check_out",
	"end date":      "check_out",
	"nights":        "nights",
	"earnings":      "earnings_amount",
	"payout":        "earnings_amount",
	"amount":        "earnings_amount",
	"adults":        "adults",
	"children":      "children",
	"infants":       "infants",
}

var dateLayouts = []string{
	"2006-01-02",
	"01-02-06",
	"1/2/2006",
	"01/02/2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	time.RFC3339,
}

// ReadScheduleRows reads the first sheet of a cleaning-schedule .xlsx into
// normalized rows. Cell values are carried best-effort; missing or
// unparsable required fields are caught by NormalizedRow.Validate so that
// one bad row surfaces as one session error, not a failed file.
func ReadScheduleRows(r io.Reader) ([]NormalizedRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("spreadsheet has no sheets")
	}

	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(cells) < 2 {
		return nil, fmt.Errorf("sheet %q has no data rows", sheets[0])
	}

	columns := map[int]string{}
	for i, header := range cells[0] {
		if field, ok := headerAliases[strings.ToLower(strings.TrimSpace(header))]; ok {
			columns[i] = field
		}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("sheet %q has no recognizable headers", sheets[0])
	}

	var rows []NormalizedRow
	for rowIdx, record := range cells[1:] {
		if isBlankRecord(record) {
			continue
		}
		row := NormalizedRow{
			RowNumber: rowIdx + 2, // 1-based, after the header row
			Raw:       map[string]string{},
		}
		for colIdx, value := range record {
			field, ok := columns[colIdx]
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			row.Raw[field] = value
			assignRowField(&row, field, value)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func assignRowField(row *NormalizedRow, field, value string) {
	switch field {
	case "guest_name":
		row.GuestName = value
	case "guest_contact":
		row.GuestContact = value
	case "property_label":
		row.PropertyLabel = value
	case "source":
		row.SourceRaw = value
	case "external_code":
		row.ExternalCode = value
	case "external_status":
		row.ExternalStatus = value
	case "check_in":
		row.CheckIn = parseSheetDate(value)
	case "check_out":
		row.CheckOut = parseSheetDate(value)
	case "nights":
		row.Nights = parseSheetInt(value)
	case "earnings_amount":
		row.EarningsAmount = parseSheetMoney(value)
	case "adults":
		row.Adults = parseSheetInt(value)
	case "children":
		row.Children = parseSheetInt(value)
	case "infants":
		row.Infants = parseSheetInt(value)
	}
}

// parseSheetDate returns the zero time for anything unparsable; Validate
// reports it against the right row number.
func parseSheetDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseSheetInt(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}

func parseSheetMoney(value string) decimal.Decimal {
	cleaned := strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(value)
	if cleaned == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
