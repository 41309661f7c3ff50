package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrNoChannel means the recipient has no address on any configured channel.
var ErrNoChannel = errors.New("no deliverable channel for recipient")

// Recorder receives delivery outcomes.
type Recorder interface {
	NotificationSent(channel, status string)
}

// DispatcherOptions tunes retries.
type DispatcherOptions struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Dispatcher renders templates and delivers them through a hospital's
// cached provider, retrying transient failures.
type Dispatcher struct {
	cache     *ClientCache
	templates *TemplateEngine
	logger    zerolog.Logger
	metrics   Recorder
	opts      DispatcherOptions
}

func NewDispatcher(cache *ClientCache, templates *TemplateEngine, logger zerolog.Logger, metrics Recorder, opts DispatcherOptions) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	return &Dispatcher{cache: cache, templates: templates, logger: logger, metrics: metrics, opts: opts}
}

// Notify renders templateID and sends it on every channel the recipient can
// be reached on. It returns the joined channel errors.
func (d *Dispatcher) Notify(ctx context.Context, hospitalID uuid.UUID, templateID string, to Recipient, data map[string]string) error {
	subject, body, err := d.templates.Render(templateID, data)
	if err != nil {
		return err
	}
	provider, err := d.cache.Get(ctx, hospitalID)
	if err != nil {
		return err
	}

	var msgs []Notification
	if to.Email != "" && provider.Email != nil {
		msgs = append(msgs, Notification{Channel: ChannelEmail, To: to.Email, Subject: subject, Body: body, TemplateID: templateID})
	}
	if to.Phone != "" && provider.SMS != nil {
		msgs = append(msgs, Notification{Channel: ChannelSMS, To: to.Phone, Body: body, TemplateID: templateID})
	}
	if to.Phone != "" && provider.WhatsApp != nil {
		msgs = append(msgs, Notification{Channel: ChannelWhatsApp, To: to.Phone, Body: body, TemplateID: templateID})
	}
	if len(msgs) == 0 {
		return ErrNoChannel
	}

	errs := make([]error, len(msgs))
	var g errgroup.Group
	for i := range msgs {
		i := i
		g.Go(func() error {
			errs[i] = d.send(ctx, provider, msgs[i])
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, p *Provider, n Notification) error {
	var err error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		if err = deliver(ctx, p, n); err == nil {
			d.record(n.Channel, "sent")
			return nil
		}
		d.logger.Warn().Err(err).Str("channel", string(n.Channel)).Str("template", n.TemplateID).
			Int("attempt", attempt).Msg("notification attempt failed")
		if attempt == d.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			d.record(n.Channel, "failed")
			return ctx.Err()
		case <-time.After(d.opts.Backoff * time.Duration(attempt)):
		}
	}
	d.record(n.Channel, "failed")
	return fmt.Errorf("send %s notification: %w", n.Channel, err)
}

func deliver(ctx context.Context, p *Provider, n Notification) error {
	switch n.Channel {
	case ChannelEmail:
		return p.Email.SendEmail(ctx, n.To, n.Subject, n.Body)
	case ChannelSMS:
		return p.SMS.SendSMS(ctx, n.To, n.Body)
	case ChannelWhatsApp:
		return p.WhatsApp.SendWhatsApp(ctx, n.To, n.Body)
	}
	return fmt.Errorf("unsupported channel %q", n.Channel)
}

func (d *Dispatcher) record(ch Channel, status string) {
	if d.metrics != nil {
		d.metrics.NotificationSent(string(ch), status)
	}
}
