// Package mailer provides goIdentity.EmailSender implementations.
//
// [SMTPSender] delivers multipart text/HTML mail synchronously over SMTP,
// honoring the caller's context deadline. [LogSender] only logs and is meant
// for local development.
package mailer
