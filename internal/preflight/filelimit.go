package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the open file limit below which on-disk catalogs
// start failing. Each bleve index keeps its segment files open, and a
// container with many sub-indexes opens one index per sub-index.
const MinFileDescriptors = 1024

// CheckFileDescriptors reports the soft open file limit of this process.
// A low limit is a warning: Elasticsearch catalogs hold no local files.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors"}

	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot read open file limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d open files allowed (minimum: %d)", limit.Cur, MinFileDescriptors)
	if limit.Cur < MinFileDescriptors {
		result.Status = StatusWarn
		result.Details = "Raise it with 'ulimit -n 10240' before vacuuming bleve catalogs"
		return result
	}
	result.Status = StatusPass
	return result
}
