package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryOrder(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.On("save", "a"))
	assert.True(t, r.On("save", "b"))
	assert.True(t, r.On("save", "c"))
	assert.False(t, r.On("save", "b"), "duplicate pair should be ignored")
	assert.True(t, r.On("open", "a"))

	assert.Equal(t, []string{"a", "b", "c"}, r.Handlers("save"))
	assert.Equal(t, []string{"open", "save"}, r.Events())
	assert.Equal(t, 4, r.Count())
}

func TestRegistryOff(t *testing.T) {
	r := NewRegistry()
	r.On("save", "a")
	r.On("save", "b")

	assert.True(t, r.Off("save", "a"))
	assert.False(t, r.Off("save", "a"))
	assert.False(t, r.Off("open", "b"))
	assert.Equal(t, []string{"b"}, r.Handlers("save"))

	assert.True(t, r.Off("save", "b"))
	assert.Nil(t, r.Handlers("save"))
	assert.Empty(t, r.Events())
}

func TestRegistryHandlersIsCopy(t *testing.T) {
	r := NewRegistry()
	r.On("save", "a")

	list := r.Handlers("save")
	list[0] = "mutated"
	assert.Equal(t, []string{"a"}, r.Handlers("save"))
}

func TestRegistryOffKeepsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.On("save", "a")
	r.On("save", "b")

	before := r.Handlers("save")
	r.Off("save", "a")
	r.On("save", "c")

	assert.Equal(t, []string{"a", "b"}, before)
	assert.Equal(t, []string{"b", "c"}, r.Handlers("save"))
}
