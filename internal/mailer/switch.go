package mailer

import (
	"context"
	"sync/atomic"

	"github.com/blockedby/prospect-os/internal/logger"
)

// Switch is a Transport whose relay can be replaced while campaigns run.
// Sends already in flight finish on the relay they started with.
type Switch struct {
	cur atomic.Pointer[SMTPTransport]
}

// NewSwitch wraps t, which may be nil until settings are provided.
func NewSwitch(t *SMTPTransport) *Switch {
	s := &Switch{}
	if t != nil {
		s.cur.Store(t)
	}
	return s
}

// Replace installs t for subsequent sends.
func (s *Switch) Replace(t *SMTPTransport) {
	s.cur.Store(t)
}

// Candidate builds a relay from settings without installing it. An empty
// password falls back to the active relay's password.
func (s *Switch) Candidate(settings Settings, log *logger.Logger) (*SMTPTransport, error) {
	if settings.Password == "" {
		if cur := s.cur.Load(); cur != nil {
			settings.Password = cur.settings.Password
		}
	}
	return NewSMTPTransport(settings, log)
}

// Current returns the active relay, or nil.
func (s *Switch) Current() *SMTPTransport {
	return s.cur.Load()
}

// Send submits through the active relay.
func (s *Switch) Send(ctx context.Context, msg Message) Result {
	t := s.cur.Load()
	if t == nil {
		return failed(ErrNotConfigured)
	}
	return t.Send(ctx, msg)
}

// Verify checks the active relay.
func (s *Switch) Verify(ctx context.Context) error {
	t := s.cur.Load()
	if t == nil {
		return ErrNotConfigured
	}
	return t.Verify(ctx)
}
