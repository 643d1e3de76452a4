// package formatter renders an owner's share listing as CSV, Markdown or plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/desertthunder/sharelist/internal/shares"
)

// Listing is one owner's shares together with the base URL links point at.
type Listing struct {
	Owner   string
	BaseURL string
	Shares  []*shares.Metadata
}

// extensions maps supported formats to file extensions.
var extensions = map[string]string{
	"csv":      "csv",
	"markdown": "md",
	"txt":      "txt",
}

// ExportToCSV converts a Listing to CSV format with columns: Code, Playlist ID, Name, Link, Created
func ExportToCSV(l *Listing) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Code", "Playlist ID", "Name", "Link", "Created"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, m := range l.Shares {
		record := []string{
			m.ShareCode,
			m.PlaylistID,
			m.PlaylistName,
			shares.ShareURL(l.BaseURL, m.ShareCode),
			m.CreatedAt.UTC().Format(time.RFC3339),
		}
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

// ExportToMarkdown converts a Listing to Markdown with a cover thumbnail per share when one is known
func ExportToMarkdown(l *Listing) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Shares for %s\n\n", l.Owner)
	fmt.Fprintf(&buf, "**Shares**: %d\n\n", len(l.Shares))

	for i, m := range l.Shares {
		fmt.Fprintf(&buf, "%d. [%s](%s) `%s`\n", i+1, displayName(m), shares.ShareURL(l.BaseURL, m.ShareCode), m.ShareCode)
		if m.PlaylistImage != "" {
			fmt.Fprintf(&buf, "   ![Cover](%s)\n", m.PlaylistImage)
		}
	}

	return buf.Bytes(), nil
}

// ExportToText converts a Listing to plain text format
func ExportToText(l *Listing) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Owner: %s\n", l.Owner)
	fmt.Fprintf(&buf, "Shares: %d\n\n", len(l.Shares))

	for i, m := range l.Shares {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, displayName(m), shares.ShareURL(l.BaseURL, m.ShareCode))
	}

	return buf.Bytes(), nil
}

// Export renders l in format, one of csv, markdown or txt.
func Export(l *Listing, format string) ([]byte, error) {
	switch format {
	case "csv":
		return ExportToCSV(l)
	case "markdown":
		return ExportToMarkdown(l)
	case "txt":
		return ExportToText(l)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}
}

// WriteExport renders l and writes it to path.
//
// Defaults to {owner}_shares.{ext} as the filename.
func WriteExport(l *Listing, format, path string) (string, error) {
	data, err := Export(l, format)
	if err != nil {
		return "", err
	}

	if path == "" {
		path = fmt.Sprintf("%s_shares.%s", l.Owner, extensions[format])
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	return path, nil
}

func displayName(m *shares.Metadata) string {
	if m.PlaylistName == "" {
		return m.PlaylistID
	}
	return m.PlaylistName
}
