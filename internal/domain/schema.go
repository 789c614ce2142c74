package domain

import "slices"

// TableSchema is the ephemeral result of probing one tenant table.
type TableSchema struct {
	Site       SiteSummary    `json:"site"`
	Table      string         `json:"table"`
	Columns    []string       `json:"columns"`
	Roles      []RoleOption   `json:"roles"`
	HasData    bool           `json:"has_data"`
	ProbeError string         `json:"error,omitempty"`
	SampleRow  map[string]any `json:"sample_row,omitempty"`
}

// Has reports whether the column is part of the schema.
func (s *TableSchema) Has(column string) bool {
	return slices.Contains(s.Columns, column)
}

// Defaulted reports that the columns came from static defaults, not live data.
func (s *TableSchema) Defaulted() bool {
	return !s.HasData
}
