package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Side identifies which face of a card a reference points at.
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// Row is one input record: a display name plus up to two source references.
// Index is 0-based and defines the canonical document order.
type Row struct {
	Index       int
	DisplayName string
	FrontRef    string
	BackRef     string
}

// IsPlaceholder reports whether a reference cell denotes "no reference for
// this side". Upstream exports emit literal "nan"/"None" for empty cells.
func IsPlaceholder(s string) bool {
	t := strings.TrimSpace(s)
	return t == "" || t == "nan" || t == "None"
}

// Parse reads a headerless CSV manifest: display_name, front_ref, back_ref.
// Short rows are tolerated; missing names become "unknown_{N}".
func Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read manifest row %d: %w", len(rows), err)
		}
		row := Row{Index: len(rows)}
		if len(rec) > 0 {
			row.DisplayName = strings.TrimSpace(rec[0])
		}
		if row.DisplayName == "" || row.DisplayName == "nan" {
			row.DisplayName = fmt.Sprintf("unknown_%d", row.Index+1)
		}
		if len(rec) > 1 && !IsPlaceholder(rec[1]) {
			row.FrontRef = strings.TrimSpace(rec[1])
		}
		if len(rec) > 2 && !IsPlaceholder(rec[2]) {
			row.BackRef = strings.TrimSpace(rec[2])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Ref returns the row's reference for a side ("" when absent).
func (r Row) Ref(side Side) string {
	if side == SideFront {
		return r.FrontRef
	}
	return r.BackRef
}
