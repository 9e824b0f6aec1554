// Package mail queues templated notification emails and delivers them from
// the worker.
package mail

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// TypeSend is the asynq task type for one outgoing email.
const TypeSend = "mail:send"

var ErrInvalidEmail = errors.New("mail: invalid email")

// Email is a templated message. Values fill ((KEY)) placeholders.
type Email struct {
	TemplateID string            `json:"template_id"`
	To         string            `json:"to"`
	Subject    string            `json:"subject"`
	Content    string            `json:"content,omitempty"`
	Values     map[string]string `json:"values"`
	// DedupKey, when set, lets the sender drop repeats of the same notification.
	DedupKey string `json:"dedup_key,omitempty"`
}

// Validate checks the fields every sender needs.
func (e Email) Validate() error {
	switch {
	case strings.TrimSpace(e.To) == "" || !strings.Contains(e.To, "@"):
		return fmt.Errorf("%w: recipient %q", ErrInvalidEmail, e.To)
	case strings.TrimSpace(e.TemplateID) == "":
		return fmt.Errorf("%w: template id is required", ErrInvalidEmail)
	}
	return nil
}

// Body renders Content with Values substituted.
func (e Email) Body() string {
	return Render(e.Content, e.Values)
}

// Render replaces each ((KEY)) in content with values[KEY]. Unknown
// placeholders are left untouched.
func Render(content string, values map[string]string) string {
	if content == "" || len(values) == 0 {
		return content
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "(("+k+"))", values[k])
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

// Queue accepts emails for asynchronous delivery.
type Queue interface {
	Enqueue(ctx context.Context, e Email) error
}

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

// Direct is a Queue that delivers immediately through Sender.
type Direct struct {
	Sender Sender
}

func (d Direct) Enqueue(ctx context.Context, e Email) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return d.Sender.Send(ctx, e)
}

// Outbox is an in-process Queue that keeps every email. It backs tests and
// single-binary runs without Redis.
type Outbox struct {
	mu     sync.Mutex
	emails []Email
}

func NewOutbox() *Outbox { return &Outbox{} }

func (o *Outbox) Enqueue(_ context.Context, e Email) error {
	if err := e.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emails = append(o.emails, e)
	return nil
}

// Send makes Outbox usable as a Sender too.
func (o *Outbox) Send(ctx context.Context, e Email) error { return o.Enqueue(ctx, e) }

// Emails returns a copy of everything queued so far.
func (o *Outbox) Emails() []Email {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Email(nil), o.emails...)
}

// Sent returns queued emails using templateID.
func (o *Outbox) Sent(templateID string) []Email {
	var out []Email
	for _, e := range o.Emails() {
		if e.TemplateID == templateID {
			out = append(out, e)
		}
	}
	return out
}
