package vocab

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"
)

// ImportXLSX reads a customer-approved list from a spreadsheet. Expected
// columns: canonical name, pipe-separated aliases, category. The first row is
// treated as a header and skipped. Rows with an empty name or an unknown
// category are rejected so a bad sheet is caught at import time, not at
// match time.
func ImportXLSX(path string) ([]Entry, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "vocab: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("vocab: xlsx has no sheets")
	}

	var entries []Entry
	for i, row := range f.Sheets[0].Rows {
		if i == 0 {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = strings.TrimSpace(cell.String())
		}
		entries = append(entries, Entry{})
		e := &entries[len(entries)-1]

		if len(cells) > 0 {
			e.CanonicalName = cells[0]
		}
		if e.CanonicalName == "" {
			return nil, eris.Errorf("vocab: row %d: empty canonical name", i+1)
		}
		if len(cells) > 1 && cells[1] != "" {
			for _, a := range strings.Split(cells[1], "|") {
				if a = strings.TrimSpace(a); a != "" {
					e.Aliases = append(e.Aliases, a)
				}
			}
		}
		e.Category = CategoryIngredient
		if len(cells) > 2 && cells[2] != "" {
			switch Category(strings.ToLower(cells[2])) {
			case CategoryIngredient:
				e.Category = CategoryIngredient
			case CategoryClaim:
				e.Category = CategoryClaim
			default:
				return nil, eris.Errorf("vocab: row %d: unknown category %q", i+1, cells[2])
			}
		}
	}

	if len(entries) == 0 {
		return nil, eris.New("vocab: xlsx has no entry rows")
	}
	return entries, nil
}

// WriteYAML serializes entries to the YAML vocabulary format understood by
// Load.
func WriteYAML(entries []Entry) ([]byte, error) {
	out, err := yaml.Marshal(vocabFile{Entries: entries})
	if err != nil {
		return nil, eris.Wrap(err, "vocab: marshal yaml")
	}
	return out, nil
}
