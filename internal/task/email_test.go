package task

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ah-its-andy/bookconv/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mailerFunc func(ctx context.Context, e Email) error

func (f mailerFunc) Send(ctx context.Context, e Email) error { return f(ctx, e) }

func TestNewEmailTaskValidatesRecipient(t *testing.T) {
	_, err := NewEmailTask(Email{Filename: "42.mobi", Recipient: "not-an-address"}, LogMailer{Logger: logger.Discard()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-an-address")

	_, err = NewEmailTask(Email{Recipient: "reader@example.com"}, LogMailer{Logger: logger.Discard()})
	assert.Error(t, err, "attachment name is required")
}

func TestEmailTaskRun(t *testing.T) {
	var got Email
	mail, err := NewEmailTask(Email{Filename: "42.mobi", Recipient: "reader@example.com", Text: "Moby Dick send to E-Reader"},
		mailerFunc(func(_ context.Context, e Email) error {
			got = e
			return nil
		}))
	require.NoError(t, err)
	assert.Equal(t, "E-mail", mail.Name())
	assert.Equal(t, "Moby Dick send to E-Reader", mail.Message())

	runTask(t, mail, nil)
	assert.Equal(t, StatusSuccess, mail.Status())
	assert.Equal(t, "reader@example.com", got.Recipient)
}

func TestEmailTaskMailerError(t *testing.T) {
	mail, err := NewEmailTask(Email{Filename: "42.mobi", Recipient: "reader@example.com"},
		mailerFunc(func(context.Context, Email) error { return errors.New("smtp down") }))
	require.NoError(t, err)

	runTask(t, mail, nil)
	assert.Equal(t, StatusError, mail.Status())
	assert.Equal(t, "smtp down", mail.Err())
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	m := LogMailer{Logger: logger.New(&buf, "info", "text")}
	require.NoError(t, m.Send(context.Background(), Email{Recipient: "reader@example.com", BookID: 42, Filename: "42.mobi"}))
	assert.Contains(t, buf.String(), "recipient=reader@example.com")
	assert.Contains(t, buf.String(), "book_id=42")
}
