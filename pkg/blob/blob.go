// Package blob stores capture artifacts (audio chunks, connection traces and
// rendered reports) in an S3-compatible object store.
package blob

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Content types of stored artifacts.
const (
	ContentTypeAudio = "audio/weba"
	ContentTypeTrace = "application/zip"
	ContentTypeHTML  = "text/html; charset=utf-8"
)

// Store writes and reads objects by path.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
}

// AudioChunkPath is where one recorded audio chunk is stored. Names have
// one-second resolution; callers storing several chunks per second must pick
// distinct times.
func AudioChunkPath(meetingID int64, at time.Time) string {
	return fmt.Sprintf("audio/%d/%d.weba", meetingID, at.Unix())
}

// TracePath is where the browser trace of a failed connection is stored.
func TracePath(meetingID int64) string {
	return fmt.Sprintf("trace/%d/trace.zip", meetingID)
}

// ReportPath is where the rendered report document is stored.
func ReportPath(meetingID int64) string {
	return fmt.Sprintf("report/%d/report.html", meetingID)
}
