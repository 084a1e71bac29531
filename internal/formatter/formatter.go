// package formatter renders track search pages as CSV, Markdown or plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/desertthunder/deemusic/internal/models"
	"github.com/desertthunder/deemusic/internal/shared"
)

// Format names an output format.
type Format string

const (
	FormatText     Format = "text"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts a format name, case-insensitively. Empty is [FormatText].
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatCSV, FormatMarkdown:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
	}
}

// Duration renders d as m:ss.
func Duration(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// ToCSV converts a page to CSV with columns: URI, Title, Artist, Album, Duration
func ToCSV(page models.SearchPage) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"URI", "Title", "Artist", "Album", "Duration"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range page.Tracks {
		record := []string{track.URI, track.Title, track.Artist, track.Album, Duration(track.Duration)}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ToMarkdown converts a page to a numbered Markdown list under a heading.
func ToMarkdown(page models.SearchPage) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", page.Query)
	fmt.Fprintf(&buf, "**Results**: %d-%d of %d\n\n", first(page), page.Offset+len(page.Tracks), page.Total)

	for i, track := range page.Tracks {
		albumPart := ""
		if track.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", track.Album)
		}
		fmt.Fprintf(&buf, "%d. %s - %s%s [%s] `%s`\n",
			page.Offset+i+1, track.Artist, track.Title, albumPart, Duration(track.Duration), track.URI)
	}
	return buf.Bytes()
}

// ToText converts a page to one line per track.
func ToText(page models.SearchPage) []byte {
	var buf bytes.Buffer
	for i, track := range page.Tracks {
		fmt.Fprintf(&buf, "%3d. %s - %s [%s]\n     %s\n",
			page.Offset+i+1, track.Artist, track.Title, Duration(track.Duration), track.URI)
	}
	if len(page.Tracks) == 0 {
		buf.WriteString("No tracks found.\n")
	}
	return buf.Bytes()
}

// Write renders page to w in format.
func Write(w io.Writer, page models.SearchPage, format Format) error {
	var out []byte
	switch format {
	case FormatCSV:
		b, err := ToCSV(page)
		if err != nil {
			return err
		}
		out = b
	case FormatMarkdown:
		out = ToMarkdown(page)
	case FormatText, "":
		out = ToText(page)
	default:
		return fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
	}

	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func first(page models.SearchPage) int {
	if len(page.Tracks) == 0 {
		return page.Offset
	}
	return page.Offset + 1
}
