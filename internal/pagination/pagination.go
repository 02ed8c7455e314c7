// Package pagination implements cursor pagination over in-memory
// lists: the continuation token is the key of the last element of the
// previous page, so concatenating pages reproduces the full list
// exactly once even while elements are appended.
package pagination

import "github.com/sirupsen/logrus"

const (
	// DefaultLimit applies when a caller passes no limit.
	DefaultLimit = 50
	// MaxLimit is the hard cap on a single page.
	MaxLimit = 256
)

// ClampLimit normalizes a requested page size into [0, MaxLimit],
// substituting DefaultLimit for negative values.
func ClampLimit(limit int) int {
	if limit < 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Paginate slices one page of limit elements out of list, resuming
// after the element whose key equals continuationToken. It returns
// the page and the token for the next page, or "" when the list is
// exhausted. An unknown token restarts from the beginning, logged as
// a warning; a limit of 0 returns an empty page with no token.
func Paginate[T any](list []T, limit int, continuationToken string, key func(T) string) ([]T, string) {
	limit = ClampLimit(limit)
	if limit == 0 {
		return nil, ""
	}

	start := startIndex(list, continuationToken, key)
	end := start + limit
	if end > len(list) {
		end = len(list)
	}

	page := list[start:end]
	if len(list) > end {
		return page, key(list[end-1])
	}
	return page, ""
}

func startIndex[T any](list []T, continuationToken string, key func(T) string) int {
	if continuationToken == "" {
		return 0
	}
	for i, element := range list {
		if key(element) == continuationToken {
			return i + 1
		}
	}
	logrus.WithField("continuation_token", continuationToken).Warn("invalid continuation token, restarting from first page")
	return 0
}
