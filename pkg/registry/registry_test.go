package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/dukex/flowgate/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter interface {
	Greet() string
}

type staticGreeter string

func (g staticGreeter) Greet() string { return string(g) }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New[greeter]()

	_, ok := r.Get("hello")
	assert.False(t, ok)

	r.Register("hello", staticGreeter("hi"))

	item, ok := r.Get("hello")
	require.True(t, ok)
	assert.Equal(t, "hi", item.Greet())
}

func TestRegistry_LastWriterWins(t *testing.T) {
	r := New[greeter]()

	r.Register("hello", staticGreeter("first"))
	r.Register("hello", staticGreeter("second"))

	item, ok := r.Get("hello")
	require.True(t, ok)
	assert.Equal(t, "second", item.Greet())
	assert.Equal(t, []string{"hello"}, r.Names())
}

func TestRegistry_Names(t *testing.T) {
	r := New[greeter]()
	r.Register("b", staticGreeter("b"))
	r.Register("a", staticGreeter("a"))

	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRegistry_HealthCheck(t *testing.T) {
	r := New[greeter]()

	_, ok := r.HealthCheck()
	assert.False(t, ok)

	r.Register("a", staticGreeter("a"))

	message, ok := r.HealthCheck()
	assert.True(t, ok)
	assert.Equal(t, "Registry is healthy", message)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New[greeter]()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			r.Register("shared", staticGreeter("x"))
		}()

		go func() {
			defer wg.Done()
			_, _ = r.Get("shared")
		}()
	}

	wg.Wait()

	_, ok := r.Get("shared")
	assert.True(t, ok)
}

func TestLoadPlugins_MissingDirectory(t *testing.T) {
	plugins, err := LoadPlugins[greeter](context.Background(), log.Discard(), t.TempDir(), "Instruction")
	require.NoError(t, err)
	assert.Empty(t, plugins)
}

func TestRegisterPlugins_EmptyDirectory(t *testing.T) {
	r := New[greeter]()

	err := RegisterPlugins(context.Background(), log.Discard(), r, t.TempDir(), "Trigger")
	require.NoError(t, err)
	assert.Empty(t, r.Names())
}
