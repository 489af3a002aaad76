// Package document turns uploaded bytes into plain text for suggestion
// generation. HTML is decoded to UTF-8 and reduced to its visible text;
// binary types are rejected.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"math"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

var (
	ErrEmpty    = errors.New("document is empty")
	ErrTooLarge = errors.New("document exceeds maximum size")
)

// UnsupportedTypeError reports a non-text upload
type UnsupportedTypeError struct {
	MediaType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported document type %q", e.MediaType)
}

// Document is extracted plain text plus what was learned on the way
type Document struct {
	Text      string `json:"text"`
	Title     string `json:"title,omitempty"`
	MediaType string `json:"media_type"`
	Charset   string `json:"charset"`
	Bytes     int    `json:"bytes"`
}

// Extractor converts raw uploads to plain text
type Extractor struct {
	maxBytes  int
	sanitizer *bluemonday.Policy
}

// NewExtractor creates an extractor that rejects inputs over maxBytes
func NewExtractor(maxBytes int) *Extractor {
	return &Extractor{
		maxBytes:  maxBytes,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// MaxBytes returns the input size limit
func (e *Extractor) MaxBytes() int64 {
	if e.maxBytes <= 0 {
		return math.MaxInt32
	}
	return int64(e.maxBytes)
}

// Extract detects the type of data and returns its text. contentType is
// the declared Content-Type and only contributes a charset hint.
func (e *Extractor) Extract(data []byte, contentType string) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmpty
	}
	if e.maxBytes > 0 && len(data) > e.maxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), e.maxBytes)
	}

	mtype := mimetype.Detect(data)
	if !isText(mtype) {
		return nil, &UnsupportedTypeError{MediaType: mtype.String()}
	}

	label := declaredCharset(contentType)
	if label == "" {
		label = detectCharset(data)
	}

	decoded, err := decode(data, label)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		MediaType: baseType(mtype.String()),
		Charset:   label,
		Bytes:     len(data),
	}

	if mtype.Is("text/html") {
		title, text, err := htmlText(decoded)
		if err != nil {
			return nil, err
		}
		doc.Title = title
		decoded = text
	}

	// The sanitizer escapes entities; undo that for plain text
	doc.Text = Normalize(html.UnescapeString(e.sanitizer.Sanitize(decoded)))
	if doc.Text == "" {
		return nil, ErrEmpty
	}
	return doc, nil
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") || m.Is("text/html") {
			return true
		}
	}
	return false
}

func baseType(s string) string {
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return mt
	}
	return s
}

func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

func detectCharset(data []byte) string {
	if utf8.Valid(data) {
		return "utf-8"
	}
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

func decode(data []byte, label string) (string, error) {
	if label == "utf-8" || label == "utf8" {
		return strings.ToValidUTF8(string(data), "�"), nil
	}

	r, err := charset.NewReaderLabel(label, bytes.NewReader(data))
	if err != nil {
		// Unknown label, keep the bytes
		return strings.ToValidUTF8(string(data), "�"), nil
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", label, err)
	}
	return string(out), nil
}

var blockTags = "p, div, li, h1, h2, h3, h4, h5, h6, blockquote, pre, tr, section, article"

func htmlText(src string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, head, nav, footer").Remove()

	var parts []string
	doc.Find(blockTags).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are visited on their own
		if s.Find(blockTags).Length() > 0 {
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})

	if len(parts) == 0 {
		return title, doc.Find("body").Text(), nil
	}
	return title, strings.Join(parts, "\n\n"), nil
}

var (
	spaceRun = regexp.MustCompile(`[^\S\n]+`)
	blankRun = regexp.MustCompile(`\n{3,}`)
)

// Normalize unifies line endings, trims each line and collapses runs of
// blank lines to a single paragraph break.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")

	return strings.TrimSpace(blankRun.ReplaceAllString(s, "\n\n"))
}
