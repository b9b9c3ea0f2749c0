package models

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

type PageInfo struct {
	StartCursor string `json:"startCursor"`
	EndCursor   string `json:"endCursor"`
	HasNextPage *bool  `json:"hasNextPage,omitempty"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// DecodeCompositeCursor returns the zero time and "" for a missing or malformed cursor.
func DecodeCompositeCursor(cursor *string) (time.Time, string) {
	if cursor == nil || *cursor == "" {
		return time.Time{}, ""
	}

	decoded, err := base64.StdEncoding.DecodeString(*cursor)
	if err != nil {
		return time.Time{}, ""
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, ""
	}

	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, ""
	}
	return ts, parts[1]
}

func EncodeCompositeCursor(createdAt time.Time, id string) string {
	cursor := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), id)
	return base64.StdEncoding.EncodeToString([]byte(cursor))
}
