// Package core provides the mail-merge pipeline behind the web form, the
// JSON API and the csvmail CLI.
//
// This package holds all domain logic independent of any UI or transport
// layer. It can be used by web handlers, CLI tools, or tests without
// modification.
//
// # Pipeline
//
// A batch flows through five stages, all driven by [Service.Send]:
//
//  1. [AccountResolver] picks the provider preset and credentials. Unknown
//     accounts and missing credentials fail here, before any I/O.
//  2. [Ingestor] decodes the upload (UTF-8, else the fallback encoding) and
//     reads it as a header-keyed CSV. Rows without an email are dropped.
//  3. [Assembler] builds one [Message] per row, rendering $name and ${name}
//     placeholders with [Render]. A row "body" column wins over the body
//     template and is sent verbatim.
//  4. [BatchLimiter] caps how many batches hold an SMTP session at once.
//  5. [Engine] opens one session, logs in once and sends each message in
//     order, pausing between messages. A failing recipient is recorded and
//     the batch continues; a connection or login failure aborts it.
//
// Finished batches are summarized in a [Report] and, when a database is
// configured, written to [PgHistory].
//
// # Error Handling
//
// Stage errors are sentinel values ([ErrEmptyInput], [ErrNoValidRows],
// [ErrUnknownAccount], [ErrMissingCredentials], [ErrNoMessages],
// [ErrConnection], [ErrAuthentication]) matched with errors.Is. [MapError]
// turns them into user-facing messages with support codes.
package core
