package gstengine

import (
	"fmt"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies pipeline errors for logs and telemetry.
type ErrorCategory int

const (
	// ErrCategoryNetwork covers sinks that stream somewhere (RTMP, SRT, UDP).
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryNegotiation covers caps and format mismatches.
	ErrCategoryNegotiation
	// ErrCategoryResource covers files, devices and missing plugins.
	ErrCategoryResource
	// ErrCategoryUnknown is everything else.
	ErrCategoryUnknown
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryNegotiation:
		return "negotiation"
	case ErrCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Fault is an error reported on the pipeline bus.
type Fault struct {
	Category ErrorCategory
	Message  string
	Debug    string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("pipeline error [%s]: %s", f.Category, f.Message)
}

// ClassifyError categorizes a GStreamer error by message heuristics; go-gst
// does not expose the GError domain.
func ClassifyError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classify(gerr.Error(), gerr.DebugString())
}

var categoryKeywords = []struct {
	category ErrorCategory
	keywords []string
}{
	// Negotiation first: "not-negotiated" often mentions the sink too.
	{ErrCategoryNegotiation, []string{
		"not negotiated", "not-negotiated", "negotiation", "caps", "format", "codec", "encode",
	}},
	{ErrCategoryNetwork, []string{
		"connection", "timeout", "unreachable", "network", "dns", "resolve",
		"socket", "tcp", "udp", "rtmp", "srt", "could not connect", "failed to connect",
	}},
	{ErrCategoryResource, []string{
		"no such file", "permission", "could not open", "resource", "device",
		"missing plugin", "no element", "disk",
	}},
}

func classify(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(combined, kw) {
				return c.category
			}
		}
	}
	return ErrCategoryUnknown
}
