package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/skillsenselab/scribeflow/internal/transcription"
)

// Subtitle formats accepted on submission.
const (
	SubtitleFormatSRT = "srt"
	SubtitleFormatVTT = "vtt"
)

// RenderSubtitles serializes transcript segments into the given subtitle
// format.
func RenderSubtitles(format string, segments []transcription.Segment) ([]byte, error) {
	switch format {
	case SubtitleFormatSRT:
		return renderSRT(segments), nil
	case SubtitleFormatVTT:
		return renderVTT(segments), nil
	default:
		return nil, fmt.Errorf("unsupported subtitle format %q", format)
	}
}

func renderSRT(segments []transcription.Segment) []byte {
	var b strings.Builder
	for i, s := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			formatTimestamp(s.Start, ","),
			formatTimestamp(s.End, ","),
			strings.TrimSpace(s.Text),
		)
	}
	return []byte(b.String())
}

func renderVTT(segments []transcription.Segment) []byte {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, s := range segments {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			formatTimestamp(s.Start, "."),
			formatTimestamp(s.End, "."),
			strings.TrimSpace(s.Text),
		)
	}
	return []byte(b.String())
}

// formatTimestamp renders seconds as HH:MM:SS<sep>mmm.
func formatTimestamp(seconds float64, sep string) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms)
}
