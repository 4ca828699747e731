package models

import "time"

// QueryResult holds the rows returned by the store for one execution.
type QueryResult struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Duration time.Duration    `json:"duration"`
	SQL      string           `json:"-"`
	Cached   bool             `json:"cached,omitempty"`
}

