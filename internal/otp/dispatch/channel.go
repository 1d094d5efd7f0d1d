// Package dispatch delivers one-time codes to an address over a selectable channel.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charlesng35/passgate/internal/models"
	apperrors "github.com/charlesng35/passgate/pkg/errors"
)

// Built-in delivery methods.
const (
	MethodEmail = "EMAIL"
	MethodSMS   = "SMS"
	MethodLog   = "LOG"
)

// Message is a single code delivery. Owner is the address of the identity the
// code belongs to; it differs from Address only when a code is sent to an
// address nobody owns yet. Phone is filled in by Prepare for SMS delivery.
type Message struct {
	Address   string
	Owner     string
	Code      string
	Purpose   models.OTPPurpose
	ExpiresIn time.Duration
	Phone     string
}

// OwnerAddress returns Owner, falling back to Address.
func (m Message) OwnerAddress() string {
	if strings.TrimSpace(m.Owner) != "" {
		return m.Owner
	}
	return m.Address
}

// Channel delivers a code to an address.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// Preparer is implemented by channels that look up recipient details. Prepare
// runs before the issuing transaction opens so Send never touches the database.
type Preparer interface {
	Prepare(ctx context.Context, msg Message) (Message, error)
}

// Prepare runs channel.Prepare when the channel implements Preparer.
func Prepare(ctx context.Context, channel Channel, msg Message) (Message, error) {
	if p, ok := channel.(Preparer); ok {
		return p.Prepare(ctx, msg)
	}
	return msg, nil
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, msg Message) error

func (f ChannelFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Registry maps method tags to channels. It is built once at start-up; an
// empty method selects the default channel.
type Registry struct {
	channels      map[string]Channel
	defaultMethod string
}

// NewRegistry builds a registry. defaultMethod must name one of channels.
func NewRegistry(defaultMethod string, channels map[string]Channel) (*Registry, error) {
	normalized := make(map[string]Channel, len(channels))
	for method, channel := range channels {
		if channel == nil {
			continue
		}
		normalized[normalizeMethod(method)] = channel
	}

	defaultMethod = normalizeMethod(defaultMethod)
	if _, ok := normalized[defaultMethod]; !ok {
		return nil, fmt.Errorf("dispatch: default method %q has no channel", defaultMethod)
	}

	return &Registry{channels: normalized, defaultMethod: defaultMethod}, nil
}

// Resolve returns the channel for method and the canonical method tag. An
// unrecognised method is a configuration error surfaced to the caller.
func (r *Registry) Resolve(method string) (Channel, string, error) {
	method = normalizeMethod(method)
	if method == "" {
		method = r.defaultMethod
	}
	channel, ok := r.channels[method]
	if !ok {
		return nil, "", apperrors.ErrUnsupportedMethod.WithMessage(
			fmt.Sprintf("Delivery method %q is not available; use one of %s", method, strings.Join(r.Methods(), ", ")),
		)
	}
	return channel, method, nil
}

// Methods lists the registered method tags in a stable order.
func (r *Registry) Methods() []string {
	methods := make([]string, 0, len(r.channels))
	for method := range r.channels {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

func normalizeMethod(method string) string {
	return strings.ToUpper(strings.TrimSpace(method))
}
