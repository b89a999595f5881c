package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "empty input sentinel",
			err:         ErrEmptyInput,
			wantCode:    "CSV001",
			wantMessage: "The uploaded CSV is empty",
		},
		{
			name:        "wrapped no valid rows",
			err:         fmt.Errorf("parse recipients: %w", ErrNoValidRows),
			wantCode:    "CSV002",
			wantMessage: "No row in the CSV has an email address",
		},
		{
			name:        "unknown account",
			err:         fmt.Errorf("%w: outlook", ErrUnknownAccount),
			wantCode:    "ACC001",
			wantMessage: "The selected account is not configured",
		},
		{
			name:        "missing credentials error type",
			err:         &MissingCredentialsError{Account: "gmail", UserVar: "GMAIL_SMTP_USER", PasswordVar: "GMAIL_SMTP_PASSWORD"},
			wantCode:    "ACC002",
			wantMessage: "No SMTP email or password is available for this account",
		},
		{
			name:        "auth failure beats connection text",
			err:         fmt.Errorf("%w: 535 connection refused by policy", ErrAuthentication),
			wantCode:    "SMTP002",
			wantMessage: "The mail server rejected the login",
		},
		{
			name:        "connection refused text",
			err:         errors.New("dial tcp 127.0.0.1:587: connect: connection refused"),
			wantCode:    "SMTP001",
			wantMessage: "Unable to connect to the mail server",
		},
		{
			name:        "timeout text",
			err:         errors.New("read tcp: i/o timeout"),
			wantCode:    "SMTP003",
			wantMessage: "The mail server did not answer in time",
		},
		{
			name:        "busy limiter",
			err:         ErrTooManyBatches,
			wantCode:    "UPL002",
			wantMessage: "System is busy sending other batches",
		},
		{
			name:        "file too large",
			err:         errors.New("file too large: 20MB exceeds limit"),
			wantCode:    "UPL001",
			wantMessage: "The upload exceeds the size limit",
		},
		{
			name:        "rate limit maps correctly",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("INVALID CSV: bare quote"),
			wantCode:    "CSV003",
			wantMessage: "File is not a valid CSV",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrNoValidRows)

	expected := `No row in the CSV has an email address (Code: CSV002). Add an "email" column and fill it for every recipient`
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", ErrConnection, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("%w: 535 bad credentials", ErrAuthentication)
		userErr := NewUserError(techErr)

		if userErr.Error() != "The mail server rejected the login" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ErrAuthentication) {
			t.Error("Unwrap() should reach the sentinel")
		}
	})
}

func TestMissingCredentialsError(t *testing.T) {
	err := &MissingCredentialsError{Account: "feishu", UserVar: "FEISHU_SMTP_USER", PasswordVar: "FEISHU_SMTP_PASSWORD"}

	if !errors.Is(err, ErrMissingCredentials) {
		t.Error("errors.Is(err, ErrMissingCredentials) = false")
	}
	msg := err.Error()
	for _, want := range []string{"feishu", "FEISHU_SMTP_USER", "FEISHU_SMTP_PASSWORD"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}
