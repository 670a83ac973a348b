package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderEntryDefaultFormat(t *testing.T) {
	e := formatEntry{
		Bucket:       "my-bucket",
		Key:          "data/2024/a.csv",
		Size:         1234,
		LastModified: time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC),
	}
	got := renderEntry(defaultFormat, e)
	assert.Equal(t, "2024-03-05 09:30:00 1234 data/2024/a.csv", got)
}

func TestRenderEntryCustomTokens(t *testing.T) {
	e := formatEntry{
		Bucket:       "my-bucket",
		Key:          "data/2024/a.csv",
		Size:         2048,
		LastModified: time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC),
	}
	got := renderEntry("{uri} {size_human}", e)
	assert.Equal(t, "s3://my-bucket/data/2024/a.csv 2.0 kB", got)
}

func TestRenderEntryPrefixUsesPREMarker(t *testing.T) {
	e := formatEntry{Key: "data/2024/", IsPrefix: true}
	got := renderEntry(defaultFormat, e)
	assert.Contains(t, got, "PRE")
	assert.Contains(t, got, "data/2024/")
}
