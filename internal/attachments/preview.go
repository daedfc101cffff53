package attachments

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pressleaf/notesd/internal/notes"
	"go.uber.org/zap"
)

// SlidePreview carries the extracted plain text of one slide.
type SlidePreview struct {
	Slide int
	Text  string
}

// Slide parts inside the pptx archive are named ppt/slides/slide<N>.xml.
var slidePartPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// Preview extracts per-slide plain text from a stored slide deck without
// rendering graphics. Only configured formats are accepted; anything else
// fails with the unsupported-format kind. Extraction is read-only.
func (s *Service) Preview(ctx context.Context, attachmentID string) ([]SlidePreview, error) {
	attachment, err := s.loadAttachment(ctx, opPreview, attachmentID)
	if err != nil {
		return nil, err
	}

	format := normalizeFormat(filepath.Ext(attachment.Filename))
	if _, ok := s.previewFormats[format]; !ok {
		return nil, notes.NewServiceError(opPreview, "unsupported_format", notes.ErrUnsupportedFormat)
	}

	stream, err := s.blobs.Get(ctx, attachmentID)
	if err != nil {
		s.logError(opPreview, "blob_read_failed", err, zap.String("attachment_id", attachmentID))
		return nil, notes.NewServiceError(opPreview, "blob_read_failed", err)
	}
	defer stream.Close()

	previews, err := extractSlideText(stream)
	if err != nil {
		if errors.Is(err, notes.ErrUnsupportedFormat) {
			return nil, notes.NewServiceError(opPreview, "malformed_archive", notes.ErrUnsupportedFormat)
		}
		s.logError(opPreview, "extraction_failed", err, zap.String("attachment_id", attachmentID))
		return nil, notes.NewServiceError(opPreview, "extraction_failed", err)
	}
	return previews, nil
}

// extractSlideText spools the blob to a temporary file, opens it as a zip
// archive and collects the text runs of every slide part.
func extractSlideText(stream io.Reader) ([]SlidePreview, error) {
	spool, err := os.CreateTemp("", "preview-*")
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	size, err := io.Copy(spool, stream)
	if err != nil {
		return nil, fmt.Errorf("spooling blob: %w", err)
	}

	archive, err := zip.NewReader(spool, size)
	if err != nil {
		// Not a zip container at all; the declared format lied.
		return nil, notes.ErrUnsupportedFormat
	}

	previews := make([]SlidePreview, 0, 8)
	for _, part := range archive.File {
		match := slidePartPattern.FindStringSubmatch(part.Name)
		if match == nil {
			continue
		}
		slideNumber, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}

		reader, err := part.Open()
		if err != nil {
			return nil, fmt.Errorf("opening slide part %s: %w", part.Name, err)
		}
		text, err := collectTextRuns(reader)
		reader.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing slide part %s: %w", part.Name, err)
		}
		previews = append(previews, SlidePreview{Slide: slideNumber, Text: text})
	}

	sort.Slice(previews, func(i, j int) bool { return previews[i].Slide < previews[j].Slide })
	return previews, nil
}

// collectTextRuns walks the slide XML and joins the contents of every <a:t>
// text-run element with newlines.
func collectTextRuns(reader io.Reader) (string, error) {
	decoder := xml.NewDecoder(reader)
	var runs []string
	var inTextRun bool
	var current strings.Builder

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch element := token.(type) {
		case xml.StartElement:
			if element.Name.Local == "t" {
				inTextRun = true
				current.Reset()
			}
		case xml.CharData:
			if inTextRun {
				current.Write(element)
			}
		case xml.EndElement:
			if element.Name.Local == "t" && inTextRun {
				inTextRun = false
				if text := current.String(); text != "" {
					runs = append(runs, text)
				}
			}
		}
	}
	return strings.Join(runs, "\n"), nil
}

func normalizeFormat(format string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
}
