package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the batch pipeline. Callers match them with errors.Is;
// MapError turns them into user-facing messages.
var (
	// ErrEmptyInput is returned when the uploaded file has no bytes at all.
	ErrEmptyInput = errors.New("empty file: the CSV has no content")

	// ErrNoValidRows is returned when no row has a non-empty email column.
	ErrNoValidRows = errors.New("no valid email rows found in the CSV")

	// ErrUnknownAccount is returned for an account key missing from the provider table.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrMissingCredentials is returned when neither the request nor the
	// environment supplies a user and password. See MissingCredentialsError.
	ErrMissingCredentials = errors.New("missing smtp credentials")

	// ErrNoMessages is returned when assembly produced nothing to send.
	ErrNoMessages = errors.New("no messages to send")

	// ErrConnection is returned when the SMTP server cannot be reached or
	// the TLS handshake fails. No message is attempted.
	ErrConnection = errors.New("smtp connection failed")

	// ErrAuthentication is returned when the SMTP server rejects the login.
	// No message is attempted.
	ErrAuthentication = errors.New("smtp authentication failed")
)

// MissingCredentialsError names the environment variables that could have
// supplied the credentials for an account.
type MissingCredentialsError struct {
	Account     string
	UserVar     string
	PasswordVar string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("%s for %s: enter an email and password or set %s and %s",
		ErrMissingCredentials, e.Account, e.UserVar, e.PasswordVar)
}

func (e *MissingCredentialsError) Unwrap() error {
	return ErrMissingCredentials
}
