package notify

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"time"
)

// BuildMIMEMessage renders a message as a multipart/alternative MIME
// document with the headers an automated alerting system should carry
// (auto-reply suppression, threading by alert ID).
func BuildMIMEMessage(msg *Message) ([]byte, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)
	boundary := writer.Boundary()

	headers := make(textproto.MIMEHeader)
	if msg.FromName != "" {
		headers.Set("From", fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.FromName), msg.From))
	} else {
		headers.Set("From", msg.From)
	}
	headers.Set("To", msg.To)
	headers.Set("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	headers.Set("Date", time.Now().Format(time.RFC1123Z))
	headers.Set("MIME-Version", "1.0")
	headers.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%s", boundary))
	headers.Set("Auto-Submitted", "auto-generated")
	headers.Set("X-Auto-Response-Suppress", "All")
	headers.Set("Precedence", "bulk")
	headers.Set("X-Priority", "2")
	if msg.AlertID != "" {
		headers.Set("Message-ID", fmt.Sprintf("<%s@sentryvision.local>", msg.AlertID))
		headers.Set("X-Alert-ID", msg.AlertID)
	}

	for key, values := range headers {
		for _, value := range values {
			fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
		}
	}
	fmt.Fprintf(&buf, "\r\n")

	writePart(&buf, boundary, "text/plain", msg.TextBody)
	if msg.HTMLBody != "" {
		writePart(&buf, boundary, "text/html", msg.HTMLBody)
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	return buf.Bytes(), nil
}

func writePart(buf *bytes.Buffer, boundary, contentType, body string) {
	fmt.Fprintf(buf, "--%s\r\n", boundary)
	fmt.Fprintf(buf, "Content-Type: %s; charset=utf-8\r\n", contentType)
	fmt.Fprintf(buf, "Content-Transfer-Encoding: 8bit\r\n")
	fmt.Fprintf(buf, "\r\n")
	fmt.Fprintf(buf, "%s\r\n", body)
}
