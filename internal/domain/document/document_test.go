package document

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainText(t *testing.T) {
	e := NewExtractor(1 << 20)

	doc, err := e.Extract([]byte("First line.\r\n\r\n\r\n\r\nSecond   line.\n"), "text/plain")
	require.NoError(t, err)

	assert.Equal(t, "First line.\n\nSecond line.", doc.Text)
	assert.Equal(t, "text/plain", doc.MediaType)
	assert.Equal(t, "utf-8", doc.Charset)
}

func TestExtractHTML(t *testing.T) {
	e := NewExtractor(1 << 20)
	page := `<!DOCTYPE html><html><head><title>Quarterly Notes</title><style>p{color:red}</style></head>
<body><nav>Home</nav>
<h1>Summary</h1>
<p>Revenue <b>grew</b> this quarter.</p>
<div><p>Costs were flat.</p></div>
<script>alert("x")</script>
</body></html>`

	doc, err := e.Extract([]byte(page), "text/html")
	require.NoError(t, err)

	assert.Equal(t, "text/html", doc.MediaType)
	assert.Equal(t, "Quarterly Notes", doc.Title)
	assert.Equal(t, "Summary\n\nRevenue grew this quarter.\n\nCosts were flat.", doc.Text)
	assert.NotContains(t, doc.Text, "alert")
	assert.NotContains(t, doc.Text, "Home")
}

func TestExtractDeclaredCharset(t *testing.T) {
	e := NewExtractor(1 << 20)
	latin1 := []byte("Caf\xe9 au lait is tr\xe8s bon, and the menu was reviewed by the chef.")

	doc, err := e.Extract(latin1, "text/plain; charset=ISO-8859-1")
	require.NoError(t, err)

	assert.Equal(t, "iso-8859-1", doc.Charset)
	assert.True(t, strings.HasPrefix(doc.Text, "Café au lait"))
}

func TestExtractDetectsCharsetWhenUndeclared(t *testing.T) {
	e := NewExtractor(1 << 20)
	latin1 := []byte(strings.Repeat("La r\xe9union de l'\xe9quipe a \xe9t\xe9 tr\xe8s productive aujourd'hui. ", 5))

	doc, err := e.Extract(latin1, "")
	require.NoError(t, err)

	assert.NotEqual(t, "utf-8", doc.Charset)
	assert.Contains(t, doc.Text, "réunion")
}

func TestExtractRejects(t *testing.T) {
	e := NewExtractor(64)

	tests := []struct {
		name  string
		input []byte
		check func(t *testing.T, err error)
	}{
		{"empty", []byte("  \n "), func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrEmpty) }},
		{"too large", bytes.Repeat([]byte("a"), 65), func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrTooLarge) }},
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), func(t *testing.T, err error) {
			var unsupported *UnsupportedTypeError
			require.True(t, errors.As(err, &unsupported))
			assert.Equal(t, "image/png", unsupported.MediaType)
		}},
		{"markup only", []byte("<html><body><script>x()</script></body></html>"), func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrEmpty)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(tt.input, "")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b\n\nc", Normalize("  a \t b \r\n\r\n\n\n c  "))
}
