package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedHandler struct {
	name string
}

func (h *namedHandler) Name() string                        { return h.name }
func (h *namedHandler) Execute(context.Context, *Run) error { return nil }

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()
	assert.False(t, r.Has("webhook.post"))
	assert.Nil(t, r.Get("webhook.post"))
	assert.Empty(t, r.Names())

	h := &namedHandler{name: "webhook.post"}
	r.Register(h)

	assert.True(t, r.Has("webhook.post"))
	require.NotNil(t, r.Get("webhook.post"))
	assert.Equal(t, []string{"webhook.post"}, r.Names())
}

func TestHandlerRegistryDuplicatePanics(t *testing.T) {
	r := NewHandlerRegistry()
	r.Register(&namedHandler{name: "webhook.post"})

	assert.Panics(t, func() {
		r.Register(&namedHandler{name: "webhook.post"})
	})
}
