package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/models"
)

// DownloadExporter materializes the content as a file under the artifacts
// directory instead of pushing it anywhere. No auth involved.
type DownloadExporter struct {
	cfg     *config.ExportConfig
	nowFunc func() time.Time
}

// NewDownloadExporter builds the file-drop delivery lane.
func NewDownloadExporter(cfg *config.ExportConfig) *DownloadExporter {
	return &DownloadExporter{cfg: cfg, nowFunc: time.Now}
}

func (e *DownloadExporter) Platform() string           { return "download" }
func (e *DownloadExporter) RequiresAuth() bool         { return false }
func (e *DownloadExporter) SupportedFormats() []string { return []string{"md", "html", "pdf"} }
func (e *DownloadExporter) StyleContext() string       { return "document" }

func (e *DownloadExporter) ValidateDestination(dest models.Destination) error {
	switch dest.Format {
	case "", "md", "html", "pdf":
		return nil
	default:
		return unsupportedFormat("download", dest.Format)
	}
}

func (e *DownloadExporter) VerifyDestinationAccess(_ context.Context, _ string, dest models.Destination) error {
	return e.ValidateDestination(dest)
}

func (e *DownloadExporter) Deliver(_ context.Context, dest models.Destination, req Request) (*Result, error) {
	dir := filepath.Join(e.cfg.ArtifactsDir, req.UserID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts dir: %w", err)
	}

	format := formatOrDefault(dest.Format, "md")
	var body, ext string
	switch format {
	case "md":
		body, ext = req.Content, "md"
	case "pdf":
		// Rendered as a print-ready standalone page; a true PDF pipeline
		// needs a renderer this service does not carry.
		body, ext = htmlDocument(req.Title, renderHTML(req.Content)), "pdf.html"
	default:
		body, ext = htmlDocument(req.Title, renderHTML(req.Content)), "html"
	}

	name := fmt.Sprintf("%s-%s.%s", slugify(req.Title), e.nowFunc().UTC().Format("20060102-150405"), ext)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	return &Result{ExternalURL: path}, nil
}

func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "deliverable"
	}
	if len(slug) > 48 {
		slug = strings.Trim(slug[:48], "-")
	}
	return slug
}

var _ Exporter = (*DownloadExporter)(nil)
