package mailer

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/emersion/go-message/mail"
)

// Envelope holds the header fields of an outgoing message.
type Envelope struct {
	FromName string
	From     string
	To       string
	Subject  string
	Date     time.Time
}

var textConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// PlainText converts an HTML body to a readable text alternative.
func PlainText(html string) (string, error) {
	return textConverter.ConvertString(html)
}

// Build writes a multipart/mixed message: a multipart/alternative part with
// text and HTML renditions of htmlBody, plus the attachment when set. It
// returns the raw bytes and the generated Message-Id without angle brackets.
func Build(env Envelope, htmlBody, attachment string) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(env.Date)
	h.SetAddressList("From", []*mail.Address{{Name: env.FromName, Address: env.From}})
	h.SetAddressList("To", []*mail.Address{{Address: env.To}})
	h.SetSubject(env.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("generate message id: %w", err)
	}
	id, err := h.MessageID()
	if err != nil {
		return nil, "", fmt.Errorf("read message id: %w", err)
	}

	text, err := PlainText(htmlBody)
	if err != nil {
		return nil, "", fmt.Errorf("convert body to text: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, "", fmt.Errorf("create inline part: %w", err)
	}
	if err := writeInline(iw, "text/plain", text); err != nil {
		return nil, "", err
	}
	if err := writeInline(iw, "text/html", htmlBody); err != nil {
		return nil, "", err
	}
	if err := iw.Close(); err != nil {
		return nil, "", fmt.Errorf("close inline part: %w", err)
	}

	if attachment != "" {
		if err := writeAttachment(mw, attachment); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), id, nil
}

func writeInline(iw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return w.Close()
}

func writeAttachment(mw *mail.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}

	var ah mail.AttachmentHeader
	ah.SetContentType(ct, nil)
	ah.SetFilename(name)
	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("create attachment part: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write attachment: %w", err)
	}
	return w.Close()
}
