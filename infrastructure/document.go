package infrastructure

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/nguyenthenguyen/docx"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
	"go.uber.org/zap"
)

const maxDocumentBytes = 20 << 20

// DocumentReader downloads a stored document and extracts its plain text.
type DocumentReader struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewDocumentReader(baseURL string, timeout time.Duration, logger *zap.Logger) *DocumentReader {
	return &DocumentReader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("document_reader"),
	}
}

// ConfigurePDFLicense installs a metered unipdf key when one is configured.
func ConfigurePDFLicense(key string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	return license.SetMeteredKey(key)
}

// ReadText resolves ref against the storage base URL, downloads it and extracts its text.
// Supported formats are .pdf, .docx and .txt.
func (r *DocumentReader) ReadText(ctx context.Context, ref string) (string, error) {
	target := r.resolve(ref)
	ext := documentExtension(target)

	data, err := r.download(ctx, target)
	if err != nil {
		return "", err
	}

	var text string
	switch ext {
	case ".pdf":
		text, err = extractTextFromPDF(data, r.logger)
	case ".docx":
		text, err = extractTextFromDocx(data)
	case ".txt":
		text = string(data)
	default:
		return "", fmt.Errorf("unsupported file type %q", ext)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	r.logger.Debug("extracted document text",
		zap.String("url", target),
		zap.String("ext", ext),
		zap.Int("chars", len(text)))
	return text, nil
}

func (r *DocumentReader) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return r.baseURL + ref
}

func (r *DocumentReader) download(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file (%d): %s", resp.StatusCode, target)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("file exceeds %d bytes: %s", maxDocumentBytes, target)
	}
	return data, nil
}

func documentExtension(target string) string {
	p := target
	if u, err := url.Parse(target); err == nil {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

// extractTextFromPDF joins the text of every readable page. Pages that fail to parse are
// skipped; a document with no readable text is an error.
func extractTextFromPDF(data []byte, logger *zap.Logger) (string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to read PDF: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("failed to get page count: %w", err)
	}
	if numPages == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}

	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			logger.Debug("skipping unreadable PDF page", zap.Int("page", i), zap.Error(err))
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			logger.Debug("skipping PDF page without extractor", zap.Int("page", i), zap.Error(err))
			continue
		}
		pageText, err := ex.ExtractText()
		if err != nil {
			logger.Debug("skipping PDF page with extraction error", zap.Int("page", i), zap.Error(err))
			continue
		}
		pages = append(pages, pageText)
	}

	text := strings.TrimSpace(strings.Join(pages, "\n"))
	if text == "" {
		return "", fmt.Errorf("no text could be extracted from any page of the PDF")
	}
	return text, nil
}

func extractTextFromDocx(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read DOCX: %w", err)
	}
	defer doc.Close()

	return docxXMLText(doc.Editable().GetContent())
}

// docxXMLText flattens WordprocessingML into one line per paragraph, dropping empty and
// repeated lines. Table cells are paragraphs too, so they come out in document order.
func docxXMLText(content string) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(content))
	var (
		lines   []string
		current strings.Builder
		inText  bool
	)
	flush := func() {
		if line := strings.TrimSpace(current.String()); line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse DOCX content: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteString("\t")
			case "br":
				current.WriteString(" ")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	flush()

	seen := make(map[string]struct{}, len(lines))
	unique := lines[:0]
	for _, line := range lines {
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		unique = append(unique, line)
	}
	return strings.Join(unique, "\n"), nil
}
