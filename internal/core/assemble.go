package core

import "strings"

// DefaultFallbackSubject is used when no subject template is given and the
// row has no subject column value.
const DefaultFallbackSubject = "无标题"

// Assembler builds one Message per recipient record.
type Assembler struct {
	// FallbackSubject overrides DefaultFallbackSubject when non-empty.
	FallbackSubject string
}

func (a Assembler) fallbackSubject() string {
	if a.FallbackSubject != "" {
		return a.FallbackSubject
	}
	return DefaultFallbackSubject
}

// Assemble builds the message for rec.
//
// Subject: the rendered subject template if one was supplied, else the row's
// "subject" value, else the fallback subject.
// Body: the row's "body" value verbatim if non-empty, else the rendered body
// template. A row body is never rendered.
func (a Assembler) Assemble(rec Record, subjectTmpl, bodyTmpl string) Message {
	ctx := NewRenderContext(rec)

	subject := a.fallbackSubject()
	switch {
	case strings.TrimSpace(subjectTmpl) != "":
		subject = Render(subjectTmpl, ctx)
	case rec["subject"] != "":
		subject = rec["subject"]
	}

	body := rec["body"]
	if body == "" {
		body = Render(bodyTmpl, ctx)
	}

	return Message{
		ToEmail: rec.Email(),
		ToName:  rec["name"],
		Subject: subject,
		Body:    body,
	}
}

// Build assembles every record in order, skipping records without an email.
// Returns ErrNoMessages if nothing remains.
func (a Assembler) Build(records []Record, subjectTmpl, bodyTmpl string) ([]Message, error) {
	msgs := make([]Message, 0, len(records))
	for _, rec := range records {
		if rec.Email() == "" {
			continue
		}
		msgs = append(msgs, a.Assemble(rec, subjectTmpl, bodyTmpl))
	}
	if len(msgs) == 0 {
		return nil, ErrNoMessages
	}
	return msgs, nil
}
