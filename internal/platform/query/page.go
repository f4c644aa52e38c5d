package query

import "strings"

const (
	defaultPageSize   = 50
	defaultCursorSize = 20
	maxCursorSize     = 100
)

type SortKey struct {
	Field string
	Desc  bool
}

// PageRequest is the pagination shape consumed by Finder.
// Sort keys apply in listed order; unknown keys are skipped, not rejected.
type PageRequest struct {
	Offset int
	Limit  int
	Sort   []SortKey
}

func (p PageRequest) Normalized() PageRequest {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"total_elements"`
	PageNumber    int   `json:"page_number"`
	PageSize      int   `json:"page_size"`
}

// ParseSort parses repeated "field,asc|desc" query values (direction optional,
// defaults to asc). Malformed entries are dropped here; unknown fields are
// dropped later by the Finder.
func ParseSort(values []string) []SortKey {
	keys := make([]SortKey, 0, len(values))
	for _, v := range values {
		field, dir, _ := strings.Cut(v, ",")
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		keys = append(keys, SortKey{
			Field: field,
			Desc:  strings.EqualFold(strings.TrimSpace(dir), "desc"),
		})
	}
	return keys
}
