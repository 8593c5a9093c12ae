// models/record.go
package models

// Record is one CSV row as an ordered column -> value mapping.
// Columns is shared by every record read from the same file, so it must be
// treated as read-only.
type Record struct {
	Columns []string
	Values  []string
}

// Get returns the value for column, and false when the column is absent or the
// row was short.
func (r Record) Get(column string) (string, bool) {
	for i, c := range r.Columns {
		if c == column {
			if i < len(r.Values) {
				return r.Values[i], true
			}
			return "", false
		}
	}
	return "", false
}

// Map returns the record as a column -> value map. Used for JSON payloads.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.Columns))
	for i, c := range r.Columns {
		if i < len(r.Values) {
			m[c] = r.Values[i]
		} else {
			m[c] = ""
		}
	}
	return m
}

// Batch is an ordered group of normalized records written in one transport call.
type Batch []Record

// Columns returns the shared column list of the batch, or nil when empty.
func (b Batch) Columns() []string {
	if len(b) == 0 {
		return nil
	}
	return b[0].Columns
}
