package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Email is a book delivery to one recipient.
type Email struct {
	Subject   string
	BookPath  string // book directory, relative to the library root
	Filename  string `validate:"required"`
	Recipient string `validate:"required,email"`
	Text      string
	Body      string
	BookID    int64
	// Internal tasks are spawned by other tasks rather than by a user.
	Internal bool
}

// Mailer delivers e-mails. Composition and transport live behind it.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// EmailTask hands one Email to a Mailer.
type EmailTask struct {
	*Base
	email  Email
	mailer Mailer
}

// NewEmailTask validates e and wraps it in a task.
func NewEmailTask(e Email, mailer Mailer) (*EmailTask, error) {
	if err := validate.Struct(e); err != nil {
		return nil, fmt.Errorf("invalid e-mail task for %q: %w", e.Recipient, err)
	}
	return &EmailTask{Base: NewBase(e.Text), email: e, mailer: mailer}, nil
}

func (t *EmailTask) Name() string { return "E-mail" }

func (t *EmailTask) IsCancellable() bool { return false }

func (t *EmailTask) Email() Email { return t.email }

func (t *EmailTask) String() string {
	return fmt.Sprintf("E-mail %s to %s", t.email.Filename, t.email.Recipient)
}

func (t *EmailTask) Run(ctx context.Context, _ Dispatcher) {
	if !t.Start() {
		return
	}
	if err := t.mailer.Send(ctx, t.email); err != nil {
		t.Fail(err.Error())
		return
	}
	t.Succeed()
}

// LogMailer records deliveries in the log without sending anything.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(_ context.Context, e Email) error {
	m.Logger.Info("e-mail handed off",
		"recipient", e.Recipient,
		"book_id", e.BookID,
		"file", e.Filename,
		"subject", e.Subject)
	return nil
}
