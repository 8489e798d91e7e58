package pairing

import (
	"context"
	"strings"
	"sync"
	"time"
)

// SecretResponder delivers the code the user read off the television.
// Only the first call to either method has an effect.
type SecretResponder interface {
	Submit(secret string)
	Cancel()
}

// SecretPrompt asks the user for the displayed code. It must not block;
// the answer arrives through the responder.
type SecretPrompt func(SecretResponder)

type secretResponder struct {
	once   sync.Once
	answer chan string
}

func newSecretResponder() *secretResponder {
	return &secretResponder{answer: make(chan string, 1)}
}

func (r *secretResponder) Submit(secret string) {
	r.once.Do(func() {
		r.answer <- strings.TrimSpace(secret)
	})
}

func (r *secretResponder) Cancel() {
	r.Submit("")
}

// wait returns the submitted secret, or ErrNoSecret on empty answer or timeout.
func (r *secretResponder) wait(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case secret := <-r.answer:
		if secret == "" {
			return "", ErrNoSecret
		}
		return secret, nil
	case <-timer.C:
		r.Cancel()
		return "", ErrNoSecret
	case <-ctx.Done():
		r.Cancel()
		return "", ctx.Err()
	}
}
