package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Lumina/internal/core"
)

func TestHTMLExtractor(t *testing.T) {
	page := `<html lang="en"><head><title> Quarterly Report </title>
<meta name="author" content="Ada"><meta name="description" content="Q3 numbers">
<script>var x = 1;</script></head>
<body><h1>Results</h1><p>Revenue grew <a href="/more">see more</a></p><h2>Outlook</h2></body></html>`

	out, err := NewHTMLExtractor().Extract(context.Background(), []byte(page), "text/html")
	require.NoError(t, err)

	assert.Contains(t, out.Text, "# Results")
	assert.Contains(t, out.Text, "Revenue grew")
	assert.NotContains(t, out.Text, "var x")
	assert.Equal(t, "Quarterly Report", out.Metadata["title"])
	assert.Equal(t, "Ada", out.Metadata["author"])
	assert.Equal(t, "Q3 numbers", out.Metadata["description"])
	assert.Equal(t, "en", out.Metadata["language"])
	assert.Equal(t, "1", out.Metadata["link_count"])
	assert.Equal(t, "2", out.Metadata["heading_count"])
}

func TestCSVExtractor(t *testing.T) {
	data := "name,city\nAda,London\nGrace,Arlington\n"
	out, err := NewCSVExtractor().Extract(context.Background(), []byte(data), "text/csv")
	require.NoError(t, err)

	assert.Equal(t, "name: Ada | city: London\nname: Grace | city: Arlington", out.Text)
	assert.Equal(t, "2", out.Metadata["rows"])
	assert.Equal(t, "2", out.Metadata["columns"])
	assert.Equal(t, "name,city", out.Metadata["header"])
}

func TestCSVExtractor_Malformed(t *testing.T) {
	_, err := NewCSVExtractor().Extract(context.Background(), []byte("a,b\n\"unterminated,1\n"), "text/csv")
	assert.ErrorIs(t, err, core.ErrParse)
	assert.False(t, core.IsRetryable(err))
}

func TestJSONExtractor(t *testing.T) {
	data := `{"b": {"c": 2}, "a": [true, null], "name": "lumina"}`
	out, err := NewJSONExtractor().Extract(context.Background(), []byte(data), "application/json")
	require.NoError(t, err)

	assert.Equal(t, "a[0]: true\na[1]: null\nb.c: 2\nname: lumina", out.Text)
	assert.Equal(t, "object", out.Metadata["json_kind"])
	assert.Equal(t, "a,b,name", out.Metadata["top_level_keys"])

	_, err = NewJSONExtractor().Extract(context.Background(), []byte(`{"a":`), "application/json")
	assert.ErrorIs(t, err, core.ErrParse)
}

func TestXMLExtractor_Malformed(t *testing.T) {
	_, err := NewXMLExtractor().Extract(context.Background(), []byte("not xml at all"), "application/xml")
	assert.ErrorIs(t, err, core.ErrParse)
}

func TestEmailExtractor(t *testing.T) {
	msg := "From: Ada Lovelace <ada@example.com>\r\n" +
		"To: grace@example.com, alan@example.com\r\n" +
		"Subject: Engine notes\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html\r\n\r\n" +
		"<p>html body</p>\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		"The analytical engine weaves patterns.\r\n" +
		"--XYZ--\r\n"

	out, err := NewEmailExtractor().Extract(context.Background(), []byte(msg), "message/rfc822")
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", out.Metadata["sender"])
	assert.Equal(t, "grace@example.com,alan@example.com", out.Metadata["recipients"])
	assert.Equal(t, "Engine notes", out.Metadata["subject"])
	assert.Equal(t, "2006-01-02T22:04:05Z", out.Metadata["sent_at"])
	assert.Contains(t, out.Text, "The analytical engine weaves patterns.")
	assert.NotContains(t, out.Text, "html body")
}

func TestPlainTextExtractor(t *testing.T) {
	out, err := NewPlainTextExtractor().Extract(context.Background(), []byte("intro\n# Title Here\nbody text\n"), "text/markdown")
	require.NoError(t, err)

	assert.Equal(t, "Title Here", out.Metadata["title"])
	assert.Equal(t, "3", out.Metadata["line_count"])
	assert.Equal(t, "6", out.Metadata["word_count"])

	_, err = NewPlainTextExtractor().Extract(context.Background(), []byte{0xff, 0xfe, 0xfd}, "text/plain")
	assert.ErrorIs(t, err, core.ErrParse)
}

func TestArchiveExtractor(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"docs/readme.md": "# Readme\nhello archive",
		"data/rows.csv":  "k,v\nx,1\n",
		"bin/tool.exe":   "\x00\x01",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	reg, err := DefaultRegistry(nil)
	require.NoError(t, err)

	out, err := reg.Extract(context.Background(), buf.Bytes(), "application/zip")
	require.NoError(t, err)

	assert.Equal(t, "3", out.Metadata["archive_entries"])
	assert.Equal(t, "2", out.Metadata["archive_extracted"])
	assert.Contains(t, out.Text, "hello archive")
	assert.Contains(t, out.Text, "k: x | v: 1")
}

func TestArchiveExtractor_Corrupt(t *testing.T) {
	reg, err := DefaultRegistry(nil)
	require.NoError(t, err)

	_, err = reg.Extract(context.Background(), []byte("PK not really"), ".zip")
	assert.ErrorIs(t, err, core.ErrParse)
}
