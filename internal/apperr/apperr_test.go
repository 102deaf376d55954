package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"usage", Usagef("missing %s", "prompt"), Usage},
		{"wrapped not found", fmt.Errorf("load: %w", NotFoundf("session %q", "x")), NotFound},
		{"credential", NewMissingCredential("openai", "openai"), MissingCredential},
		{"plain error", errors.New("boom"), Provider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessageAndRemedy(t *testing.T) {
	err := NewMissingCredential("anthropic", "claude")
	assert.Equal(t, "no API key stored for anthropic", err.Error())
	assert.Equal(t, "ai download claude <key>", RemedyOf(fmt.Errorf("ask: %w", err)))

	inner := errors.New("connection refused")
	wrapped := Wrap(Provider, "request failed", inner)
	assert.Equal(t, "request failed: connection refused", wrapped.Error())
	assert.True(t, errors.Is(wrapped, inner))
	assert.Nil(t, Wrap(Provider, "x", nil))
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", Unsupportedf("serve is local only"))
	assert.True(t, Is(err, Unsupported))
	assert.False(t, Is(err, Usage))
}

type fakeProviderErr struct{ kind string }

func (f fakeProviderErr) Error() string        { return "provider said no" }
func (f fakeProviderErr) ProviderKind() string { return f.kind }

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	usage := Usagef("bad")
	assert.Same(t, usage, From(usage))

	tests := []struct {
		kind string
		want Kind
	}{
		{"not-found", NotFound},
		{"unsupported-feature", Unsupported},
		{"network", Provider},
		{"auth", Provider},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			err := From(fmt.Errorf("ask: %w", fakeProviderErr{tt.kind}))
			assert.Equal(t, tt.want, KindOf(err))
			assert.Contains(t, err.Error(), "provider said no")
		})
	}
	assert.NotEmpty(t, RemedyOf(From(fakeProviderErr{"auth"})))
	assert.Equal(t, Provider, KindOf(From(errors.New("plain"))))
}
