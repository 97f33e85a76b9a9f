package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Class is the failure taxonomy consumed by the retry engine.
type Class string

const (
	ClassTransient        Class = "transient"
	ClassRateLimited      Class = "rate_limited"
	ClassClientRejected   Class = "client_rejected"
	ClassRecipientBlocked Class = "recipient_blocked"
	ClassServer           Class = "server"
	ClassUnknown          Class = "unknown"
)

// Failure is a classified gateway error.
type Failure struct {
	Class Class
	// RetryAfter is the resume delay signalled with ClassRateLimited.
	RetryAfter  time.Duration
	Code        int
	Description string
	Err         error
}

func (f *Failure) Error() string {
	if f == nil {
		return "<nil>"
	}
	msg := f.Description
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	if f.Code != 0 {
		msg = fmt.Sprintf("%s (%d)", msg, f.Code)
	}
	if f.Class == ClassRateLimited && f.RetryAfter > 0 {
		msg += ", retry after " + f.RetryAfter.String()
	}
	return string(f.Class) + ": " + msg
}

func (f *Failure) Unwrap() error { return f.Err }

// telebot renders API errors it has no sentinel for as "telegram: <desc> (<code>)".
var telegramErrRx = regexp.MustCompile(`telegram: (.*) \((\d{3})\)$`)

// Classify maps any send error to a Failure. It returns nil for nil and
// passes an existing *Failure through unchanged.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &Failure{
			Class:       ClassRateLimited,
			RetryAfter:  time.Duration(flood.RetryAfter) * time.Second,
			Code:        429,
			Description: "too many requests",
			Err:         err,
		}
	}

	switch {
	case errors.Is(err, tele.ErrBlockedByUser):
		return &Failure{Class: ClassRecipientBlocked, Code: 403, Description: "bot was blocked by the user", Err: err}
	case errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup),
		errors.Is(err, tele.ErrKickedFromChannel),
		errors.Is(err, tele.ErrNotStartedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrChatNotFound):
		return fromCode(403, err.Error(), err)
	}

	var te *tele.Error
	if errors.As(err, &te) {
		return fromCode(te.Code, te.Description, err)
	}

	if m := telegramErrRx.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[2])
		return fromCode(code, m[1], err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Failure{Class: ClassTransient, Description: "request interrupted", Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return &Failure{Class: ClassTransient, Description: "network error", Err: err}
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return &Failure{Class: ClassTransient, Description: "network error", Err: err}
	}
	if errors.Is(err, ErrCircuitOpen) {
		return &Failure{Class: ClassServer, Description: "circuit open", Err: err}
	}
	return &Failure{Class: ClassUnknown, Err: err}
}

func fromCode(code int, desc string, err error) *Failure {
	f := &Failure{Code: code, Description: desc, Err: err}
	d := strings.ToLower(desc)
	switch {
	case code == 429:
		f.Class = ClassRateLimited
	case code == 403 && strings.Contains(d, "blocked by the user"):
		f.Class = ClassRecipientBlocked
	case code == 403:
		// kicked, deactivated user, no rights to send, never started the bot
		f.Class = ClassClientRejected
	case code == 400 && recipientGone(d):
		f.Class = ClassClientRejected
	case code >= 500:
		f.Class = ClassServer
	default:
		f.Class = ClassUnknown
	}
	return f
}

func recipientGone(d string) bool {
	for _, s := range []string{
		"chat not found",
		"user not found",
		"peer_id_invalid",
		"group chat was upgraded",
		"have no rights to send",
		"not enough rights",
		"chat_write_forbidden",
	} {
		if strings.Contains(d, s) {
			return true
		}
	}
	return false
}

// Retryable reports whether the class may be retried at all.
func (c Class) Retryable() bool {
	switch c {
	case ClassTransient, ClassRateLimited, ClassServer:
		return true
	default:
		return false
	}
}

// DisablesRecipient reports whether the class means the recipient is gone.
func (c Class) DisablesRecipient() bool {
	return c == ClassClientRejected || c == ClassRecipientBlocked
}
