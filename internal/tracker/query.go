package tracker

import (
	"sort"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/models"
)

var (
	ErrInvalidSort   = errors.New("invalid sort")
	ErrInvalidStatus = errors.New("invalid status filter")
)

// SortKey is a field entries can be ordered by.
type SortKey string

const (
	SortName       SortKey = "name"
	SortSize       SortKey = "size"
	SortUploadedAt SortKey = "uploadedAt"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Sort is a key plus direction, written "key-order".
type Sort struct {
	Key   SortKey
	Order SortOrder
}

// DefaultSort lists the most recent uploads first.
var DefaultSort = Sort{Key: SortUploadedAt, Order: Desc}

func (s Sort) String() string {
	return string(s.Key) + "-" + string(s.Order)
}

// ParseSort parses "key-order". An empty string yields DefaultSort.
func ParseSort(s string) (Sort, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSort, nil
	}

	key, order, ok := strings.Cut(s, "-")
	if !ok {
		return Sort{}, errors.Errorf("%w: %q", ErrInvalidSort, s)
	}

	var out Sort
	switch strings.ToLower(key) {
	case "name":
		out.Key = SortName
	case "size":
		out.Key = SortSize
	case "uploadedat", "uploaddate", "date":
		out.Key = SortUploadedAt
	default:
		return Sort{}, errors.Errorf("%w: unknown key %q", ErrInvalidSort, key)
	}

	switch SortOrder(strings.ToLower(order)) {
	case Asc:
		out.Order = Asc
	case Desc:
		out.Order = Desc
	default:
		return Sort{}, errors.Errorf("%w: unknown order %q", ErrInvalidSort, order)
	}
	return out, nil
}

// Query selects and orders entries for display.
type Query struct {
	Search string
	// Status filters by status. Empty or "all" matches everything.
	Status models.FileStatus
	Sort   Sort
}

// ParseQuery builds a Query from request parameters.
func ParseQuery(search, status, sortBy string) (Query, error) {
	q := Query{Search: search}

	if status != "" && status != "all" {
		s, ok := models.ParseFileStatus(status)
		if !ok {
			return Query{}, errors.Errorf("%w: %q", ErrInvalidStatus, status)
		}
		q.Status = s
	}

	sorting, err := ParseSort(sortBy)
	if err != nil {
		return Query{}, err
	}
	q.Sort = sorting
	return q, nil
}

// Apply filters and stable-sorts entries. The input slice is not modified.
func Apply(entries []models.FileEntry, q Query) []models.FileEntry {
	search := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]models.FileEntry, 0, len(entries))
	for _, e := range entries {
		if search != "" && !strings.Contains(strings.ToLower(e.Name), search) {
			continue
		}
		if q.Status != "" && q.Status != "all" && e.Status != q.Status {
			continue
		}
		out = append(out, e)
	}

	sorting := q.Sort
	if sorting.Key == "" {
		sorting = DefaultSort
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if sorting.Order == Desc {
			a, b = b, a
		}
		switch sorting.Key {
		case SortName:
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		case SortSize:
			return a.SizeBytes < b.SizeBytes
		default:
			return a.UploadedAt.Before(b.UploadedAt)
		}
	})
	return out
}
