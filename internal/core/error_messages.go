// Package core provides the mail-merge pipeline.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Error codes are grouped by category:
//
// # CSV Errors (CSV001-CSV099)
//
//	CSV001 - Empty file: The uploaded CSV has no content
//	         Action: Please upload a CSV file with a header row and data rows
//	         Matches: ErrEmptyInput, "empty file"
//
//	CSV002 - No recipients: No row has an email address
//	         Action: Add an "email" column and fill it for every recipient
//	         Matches: ErrNoValidRows
//
//	CSV003 - Invalid CSV: The file could not be parsed
//	         Action: Ensure the file is comma-separated with a header row
//	         Matches: "invalid csv"
//
// # Account Errors (ACC001-ACC099)
//
//	ACC001 - Unknown account: The selected account is not configured
//	         Action: Choose one of the accounts listed on the page
//	         Matches: ErrUnknownAccount
//
//	ACC002 - Missing credentials: No SMTP user or password available
//	         Action: Enter the email and password, or set them in the environment
//	         Matches: ErrMissingCredentials
//
// # Message Errors (MSG001-MSG099)
//
//	MSG001 - Nothing to send: No message could be built from the CSV
//	         Action: Check that the CSV has rows with email addresses
//	         Matches: ErrNoMessages
//
// # SMTP Errors (SMTP001-SMTP099)
//
//	SMTP001 - Connection failed: The mail server could not be reached
//	          Action: Check the host, port and TLS settings for the account
//	          Matches: ErrConnection, "connection refused"
//
//	SMTP002 - Authentication failed: The mail server rejected the login
//	          Action: Check the email and password (Gmail needs an app password)
//	          Matches: ErrAuthentication
//
//	SMTP003 - Timeout: The mail server did not answer in time
//	          Action: Please try again later
//	          Matches: "timeout", "deadline exceeded"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - File too large: The upload exceeds the size limit
//	         Action: Split the recipients into smaller files
//	         Matches: "file too large"
//
//	UPL002 - System busy: Too many batches are being sent
//	         Action: Please wait a moment and try again
//	         Matches: ErrTooManyBatches
//
//	UPL003 - No file: No file was selected
//	         Action: Please select a CSV file to upload
//	         Matches: "no file provided"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//	          Action: Please wait a moment before trying again
//	          Matches: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Support staff should check the application
// logs for the original technical error.
//
// # Matching
//
// Sentinel errors are matched first with errors.Is, then the error text is
// matched case-insensitively with strings.Contains. The first match wins.
package core

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgEmptyFile = UserMessage{
		Message: "The uploaded CSV is empty",
		Action:  "Please upload a CSV file with a header row and data rows",
		Code:    "CSV001",
	}
	msgNoRecipients = UserMessage{
		Message: "No row in the CSV has an email address",
		Action:  `Add an "email" column and fill it for every recipient`,
		Code:    "CSV002",
	}
	msgConnection = UserMessage{
		Message: "Unable to connect to the mail server",
		Action:  "Check the host, port and TLS settings for the account",
		Code:    "SMTP001",
	}
	msgTimeout = UserMessage{
		Message: "The mail server did not answer in time",
		Action:  "Please try again later",
		Code:    "SMTP003",
	}
	msgBusy = UserMessage{
		Message: "System is busy sending other batches",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}
)

// errorKind maps a sentinel error to its user message.
type errorKind struct {
	err error
	msg UserMessage
}

// errorKinds is checked with errors.Is before any text pattern.
var errorKinds = []errorKind{
	{ErrEmptyInput, msgEmptyFile},
	{ErrNoValidRows, msgNoRecipients},
	{ErrUnknownAccount, UserMessage{
		Message: "The selected account is not configured",
		Action:  "Choose one of the accounts listed on the page",
		Code:    "ACC001",
	}},
	{ErrMissingCredentials, UserMessage{
		Message: "No SMTP email or password is available for this account",
		Action:  "Enter the email and password, or set them in the environment",
		Code:    "ACC002",
	}},
	{ErrNoMessages, UserMessage{
		Message: "No message could be built from the CSV",
		Action:  "Check that the CSV has rows with email addresses",
		Code:    "MSG001",
	}},
	{ErrAuthentication, UserMessage{
		Message: "The mail server rejected the login",
		Action:  "Check the email and password (Gmail needs an app password)",
		Code:    "SMTP002",
	}},
	{ErrConnection, msgConnection},
	{ErrTooManyBatches, msgBusy},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// Specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{pattern: "empty file", msg: msgEmptyFile},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure the file is comma-separated with a header row",
			Code:    "CSV003",
		},
	},
	{pattern: "connection refused", msg: msgConnection},
	{pattern: "no such host", msg: msgConnection},
	{pattern: "deadline exceeded", msg: msgTimeout},
	{pattern: "timeout", msg: msgTimeout},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "The upload exceeds the size limit",
			Action:  "Split the recipients into smaller files",
			Code:    "UPL001",
		},
	},
	{pattern: "too many concurrent batches", msg: msgBusy},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to upload",
			Code:    "UPL003",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Sentinel errors are matched first, then known text patterns. If nothing
// matches, a generic fallback message with code ERR000 is returned.
//
// Example:
//
//	_, err := resolver.Resolve("outlook", "", "")
//	msg := MapError(err)
//	// msg.Code == "ACC001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging while providing a clean message for users.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error to a user-friendly message.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
