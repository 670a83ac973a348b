package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// defaultFormat matches `aws s3 ls`'s column layout (spec §6).
const defaultFormat = "{last_modified} {size} {key}"

// formatEntry is the data available to a -f format string for one
// common-prefix or matched object.
type formatEntry struct {
	Bucket       string
	Key          string
	IsPrefix     bool
	Size         int64
	LastModified time.Time
}

// renderEntry substitutes format tokens ({bucket}, {key}, {uri}, {size},
// {size_human}, {last_modified}) into format for one entry. Common prefixes
// are rendered with the literal "PRE" marker in place of a timestamp/size,
// matching `aws s3 ls`.
func renderEntry(format string, e formatEntry) string {
	if e.IsPrefix {
		return fmt.Sprintf("%29s %s", "PRE", e.Key)
	}

	uri := fmt.Sprintf("s3://%s/%s", e.Bucket, e.Key)
	r := strings.NewReplacer(
		"{bucket}", e.Bucket,
		"{key}", e.Key,
		"{uri}", uri,
		"{size}", fmt.Sprintf("%d", e.Size),
		"{size_human}", humanize.Bytes(uint64(e.Size)),
		"{last_modified}", e.LastModified.UTC().Format("2006-01-02 15:04:05"),
	)
	return r.Replace(format)
}
