package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/italolelis/content_companion/internal/api"
)

// Code classifies why a download did not produce a file.
type Code string

const (
	CodeBackendRejected   Code = "BACKEND_REJECTED"
	CodeTransferFailed    Code = "TRANSFER_FAILED"
	CodeAlreadyDownloaded Code = "ALREADY_DOWNLOADED"
	CodeInProgress        Code = "IN_PROGRESS"
)

// Reason refines CodeBackendRejected.
type Reason string

const (
	ReasonNotAllowed   Reason = "not_allowed"
	ReasonNotFound     Reason = "not_found"
	ReasonUnauthorized Reason = "unauthorized"
	ReasonInvalidID    Reason = "invalid_id"
	ReasonServerError  Reason = "server_error"
)

var reasonMessages = map[Reason]string{
	ReasonNotAllowed:   "This content cannot be downloaded at this time",
	ReasonNotFound:     "This content is no longer available",
	ReasonUnauthorized: "Please sign in to download this content",
	ReasonInvalidID:    "This content could not be identified",
	ReasonServerError:  "Something went wrong on our side. Please try again later.",
}

const (
	msgTransferFailed    = "The download could not be completed. Please try again."
	msgOffline           = "Check your connection and try again."
	msgCancelled         = "The download was cancelled"
	msgAlreadyDownloaded = "This content is already downloaded"
	msgInProgress        = "This content is already downloading"
)

// Error is the result of a download that did not produce a new file. Message
// is safe to show to users.
type Error struct {
	Code    Code
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(string(e.Code))

	if e.Reason != "" {
		b.WriteString(" (" + string(e.Reason) + ")")
	}

	b.WriteString(": " + e.Message)

	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the download error code carried by err, if any.
func CodeOf(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}

	return "", false
}

// LocalIOError represents a failure to write, rename or delete a local file.
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error {
	return e.Err
}

func rejected(reason Reason, err error) *Error {
	return &Error{Code: CodeBackendRejected, Reason: reason, Message: reasonMessages[reason], Err: err}
}

func transferFailed(message string, err error) *Error {
	return &Error{Code: CodeTransferFailed, Message: message, Err: err}
}

// classifyInitiate maps a failed download request to the caller-facing error.
// Transport failures never reached the backend and are transfer failures.
func classifyInitiate(err error) *Error {
	if errors.Is(err, context.Canceled) {
		return transferFailed(msgCancelled, err)
	}

	if api.IsTransport(err) {
		return transferFailed(msgOffline, err)
	}

	var be *api.BackendError
	if !errors.As(err, &be) {
		return rejected(ReasonServerError, err)
	}

	switch be.Kind {
	case api.KindUnauthorized:
		return rejected(ReasonUnauthorized, err)
	case api.KindNotFound:
		return rejected(ReasonNotFound, err)
	case api.KindRejected:
		return rejected(ReasonNotAllowed, err)
	case api.KindBadRequest:
		return rejected(badRequestReason(be.Detail), err)
	default:
		return rejected(ReasonServerError, err)
	}
}

func badRequestReason(detail string) Reason {
	d := strings.ToLower(detail)

	switch {
	case strings.Contains(d, "invalid interaction type"), strings.Contains(d, "not allowed"):
		return ReasonNotAllowed
	case strings.Contains(d, "invalid id"), strings.Contains(d, "objectid"), strings.Contains(d, "invalid media id"):
		return ReasonInvalidID
	default:
		return ReasonNotAllowed
	}
}
