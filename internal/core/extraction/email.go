package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/markdave123-py/Lumina/internal/core"
)

var _ core.Extractor = (*EmailExtractor)(nil)

// EmailExtractor reads RFC 5322 messages: headers become candidates, the
// first text/plain part (or text/html, stripped) becomes the text.
type EmailExtractor struct{}

func NewEmailExtractor() *EmailExtractor { return &EmailExtractor{} }

func (e *EmailExtractor) Name() string { return "email" }

func (e *EmailExtractor) ContentTypes() []string {
	return []string{"message/rfc822", ".eml"}
}

func (e *EmailExtractor) Extract(ctx context.Context, data []byte, _ string) (*core.ExtractedText, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, classify(ctx, e.Name(), err)
	}

	dec := new(mime.WordDecoder)
	header := func(k string) string {
		v := msg.Header.Get(k)
		if d, err := dec.DecodeHeader(v); err == nil {
			return strings.TrimSpace(d)
		}
		return strings.TrimSpace(v)
	}

	meta := map[string]string{}
	if from := header("From"); from != "" {
		meta["sender"] = from
		if addr, err := mail.ParseAddress(from); err == nil {
			meta["sender"] = addr.Address
		}
	}
	var recipients []string
	for _, k := range []string{"To", "Cc"} {
		if list, err := msg.Header.AddressList(k); err == nil {
			for _, a := range list {
				recipients = append(recipients, a.Address)
			}
		}
	}
	if len(recipients) > 0 {
		meta["recipients"] = strings.Join(recipients, ",")
	}
	if subject := header("Subject"); subject != "" {
		meta["subject"] = subject
	}
	if sent, err := msg.Header.Date(); err == nil {
		meta["sent_at"] = sent.UTC().Format(time.RFC3339)
	}

	body, err := readBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, classify(ctx, e.Name(), err)
	}

	text := body
	if subject := meta["subject"]; subject != "" {
		text = subject + "\n\n" + body
	}
	return &core.ExtractedText{Text: strings.TrimSpace(text), Metadata: meta}, nil
}

// readBody returns the best text rendition of a (possibly multipart) body.
func readBody(contentType, encoding string, r io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		var htmlFallback string
		mr := multipart.NewReader(r, params["boundary"])
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return "", err
			}
			text, err := readBody(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				return "", err
			}
			pt, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			switch {
			case pt == "text/html" && htmlFallback == "":
				htmlFallback = text
			case text != "" && pt != "text/html":
				return text, nil
			}
		}
		return htmlFallback, nil
	}

	raw, err := io.ReadAll(decodeTransfer(encoding, r))
	if err != nil {
		return "", err
	}

	switch mediaType {
	case "text/html":
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(doc.Text()), nil
	case "text/plain", "":
		return strings.TrimSpace(string(raw)), nil
	default:
		// attachments are not part of the message text
		return "", nil
	}
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}
