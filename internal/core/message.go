package core

import (
	"bytes"
	"encoding/base64"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// lineLength is the base64 body line width.
const lineLength = 76

var headerSanitizer = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// FormatFrom returns the From header value for account:
// "Display Name <user>" or just the address when no name is set.
func FormatFrom(account Account) string {
	if account.SenderName == "" {
		return account.User
	}
	addr := mail.Address{Name: headerSanitizer.Replace(account.SenderName), Address: account.User}
	return addr.String()
}

// ComposeMessage renders msg as an RFC 5322 plain-text UTF-8 message from
// account. The body is base64 encoded so any text survives transport.
func ComposeMessage(account Account, msg Message, now time.Time) []byte {
	var buf bytes.Buffer

	writeHeader(&buf, "From", FormatFrom(account))
	writeHeader(&buf, "To", headerSanitizer.Replace(msg.ToEmail))
	writeHeader(&buf, "Subject", mime.BEncoding.Encode("utf-8", headerSanitizer.Replace(msg.Subject)))
	writeHeader(&buf, "Date", now.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", messageID(account.User))
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "Content-Type", `text/plain; charset="utf-8"`)
	writeHeader(&buf, "Content-Transfer-Encoding", "base64")
	buf.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(msg.Body))
	for len(encoded) > lineLength {
		buf.WriteString(encoded[:lineLength])
		buf.WriteString("\r\n")
		encoded = encoded[lineLength:]
	}
	if encoded != "" {
		buf.WriteString(encoded)
		buf.WriteString("\r\n")
	}

	return buf.Bytes()
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func messageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}
