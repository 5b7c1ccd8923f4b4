// Package recipients loads a recipient batch from a CSV export. It stands
// in for the upstream ingestion pipeline, which the engine only sees as an
// opaque batch.
package recipients

import (
	"encoding/csv"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/bidflow/mailtrack/internal/sender"
)

// LoadCSV reads a batch from path. The header row is matched
// case-insensitively; "Email" is required, "Company Name", "Collection ID"
// and "Product description" are optional. Rows without an email address are
// skipped.
func LoadCSV(path string) ([]sender.Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open batch file")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read batch file")
	}
	if len(rows) == 0 {
		return nil, errors.New("batch file is empty")
	}

	cols := map[string]int{}
	for i, name := range rows[0] {
		cols[normalizeHeader(name)] = i
	}
	emailCol, ok := cols["email"]
	if !ok {
		return nil, errors.New("batch file is missing the required column: Email")
	}

	col := func(name string) int {
		if i, ok := cols[name]; ok {
			return i
		}
		return -1
	}

	batch := make([]sender.Recipient, 0, len(rows)-1)
	for _, row := range rows[1:] {
		email := strings.TrimSpace(field(row, emailCol))
		if email == "" {
			continue
		}
		batch = append(batch, sender.Recipient{
			Email:        email,
			Company:      strings.TrimSpace(field(row, col("company name"))),
			CollectionID: strings.TrimSpace(field(row, col("collection id"))),
			ProductDesc:  strings.TrimSpace(field(row, col("product description"))),
		})
	}
	return batch, nil
}

func normalizeHeader(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
