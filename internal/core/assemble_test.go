package core

import (
	"errors"
	"testing"
)

func TestAssembler_Assemble(t *testing.T) {
	tests := []struct {
		name        string
		rec         Record
		subject     string
		body        string
		wantSubject string
		wantBody    string
	}{
		{
			name:        "templates rendered",
			rec:         Record{"email": "a@x.com", "name": "Ann"},
			subject:     "Hi $name",
			body:        "Dear $name",
			wantSubject: "Hi Ann",
			wantBody:    "Dear Ann",
		},
		{
			name:        "row subject used without subject template",
			rec:         Record{"email": "a@x.com", "subject": "Row subject $name"},
			body:        "x",
			wantSubject: "Row subject $name",
			wantBody:    "x",
		},
		{
			name:        "subject template wins over row subject",
			rec:         Record{"email": "a@x.com", "subject": "Row subject"},
			subject:     "Template",
			wantSubject: "Template",
			wantBody:    "",
		},
		{
			name:        "whitespace subject template counts as absent",
			rec:         Record{"email": "a@x.com", "subject": "Row subject"},
			subject:     "   ",
			wantSubject: "Row subject",
		},
		{
			name:        "fallback subject",
			rec:         Record{"email": "a@x.com"},
			wantSubject: DefaultFallbackSubject,
		},
		{
			name:        "row body sent verbatim",
			rec:         Record{"email": "a@x.com", "name": "Ann", "body": "Custom $name"},
			body:        "Template $name",
			wantSubject: DefaultFallbackSubject,
			wantBody:    "Custom $name",
		},
		{
			name:        "empty row body falls back to template",
			rec:         Record{"email": "a@x.com", "name": "Ann", "body": ""},
			body:        "Template $name",
			wantSubject: DefaultFallbackSubject,
			wantBody:    "Template Ann",
		},
		{
			name:        "email placeholder always available",
			rec:         Record{"email": "a@x.com"},
			body:        "Sent to $email for $name.",
			wantSubject: DefaultFallbackSubject,
			wantBody:    "Sent to a@x.com for .",
		},
	}

	var a Assembler
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Assemble(tt.rec, tt.subject, tt.body)
			if got.ToEmail != tt.rec.Email() {
				t.Errorf("ToEmail = %q, want %q", got.ToEmail, tt.rec.Email())
			}
			if got.ToName != tt.rec["name"] {
				t.Errorf("ToName = %q, want %q", got.ToName, tt.rec["name"])
			}
			if got.Subject != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", got.Subject, tt.wantSubject)
			}
			if got.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", got.Body, tt.wantBody)
			}
		})
	}
}

func TestAssembler_CustomFallbackSubject(t *testing.T) {
	a := Assembler{FallbackSubject: "(no subject)"}

	got := a.Assemble(Record{"email": "a@x.com"}, "", "")
	if got.Subject != "(no subject)" {
		t.Errorf("Subject = %q, want %q", got.Subject, "(no subject)")
	}
}

func TestAssembler_Build(t *testing.T) {
	records := []Record{
		{"email": "a@x.com", "name": "Ann"},
		{"email": "", "name": "Nobody"},
		{"email": "b@x.com", "name": "Ben"},
	}

	msgs, err := Assembler{}.Build(records, "Hi $name", "")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Build() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].ToEmail != "a@x.com" || msgs[1].ToEmail != "b@x.com" {
		t.Errorf("order not preserved: %+v", msgs)
	}
	if msgs[1].Subject != "Hi Ben" {
		t.Errorf("Subject = %q, want %q", msgs[1].Subject, "Hi Ben")
	}
}

func TestAssembler_BuildNoMessages(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
	}{
		{"nil", nil},
		{"only blank emails", []Record{{"email": ""}, {"name": "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assembler{}.Build(tt.records, "", "")
			if !errors.Is(err, ErrNoMessages) {
				t.Errorf("Build() error = %v, want ErrNoMessages", err)
			}
		})
	}
}
