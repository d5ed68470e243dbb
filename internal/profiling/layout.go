// Package profiling reads and writes the artifact layout a profiled training
// job leaves behind in its output location.
//
// Layout under an output URI:
//
//	<output>/profiler/system/<first-ts-ms>.json     system metric segments
//	<output>/profiler/framework/<first-ts-ms>.json  framework metric segments
//	<output>/profiler/<kind>/index.json             listing of closed segments
//
// Segments are JSON Lines, one record per line, named after the timestamp of
// their first record so lexical order matches time order. CSV segments with
// the same columns are accepted on read for data exported by other tooling.
package profiling

import (
	"strconv"
	"time"

	"github.com/stepscope/stepscope/internal/storage"
	timeutils "github.com/stepscope/stepscope/internal/time"
)

const (
	profilerDirName  = "profiler"
	systemDirName    = "system"
	frameworkDirName = "framework"
)

// SystemDir resolves the system metrics directory under a job output URI.
func SystemDir(outputURI string) string {
	return storage.JoinURI(outputURI, profilerDirName, systemDirName)
}

// FrameworkDir resolves the framework metrics directory under a job output URI.
func FrameworkDir(outputURI string) string {
	return storage.JoinURI(outputURI, profilerDirName, frameworkDirName)
}

// SegmentFileName names a segment after its first record's timestamp.
func SegmentFileName(first time.Time) string {
	return strconv.FormatInt(timeutils.UnixMillis(first), 10) + ".json"
}
