package glstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uniformBuffer = 0x8A11
	storageBuffer = 0x90D2
)

func TestBindings(t *testing.T) {
	b := NewBindings()
	require.NoError(t, b.Reserve(uniformBuffer, 1))
	assert.ErrorIs(t, b.Reserve(uniformBuffer, 1), ErrBindingInUse)

	assert.Equal(t, uint32(0), b.Next(uniformBuffer))
	assert.Equal(t, uint32(2), b.Next(uniformBuffer), "1 is reserved")
	assert.Equal(t, []uint32{0, 1, 2}, b.InUse(uniformBuffer))

	// цели привязки независимы
	assert.Equal(t, uint32(0), b.Next(storageBuffer))

	b.Release(uniformBuffer, 0)
	assert.Equal(t, []uint32{1, 2}, b.InUse(uniformBuffer))
	assert.Equal(t, uint32(0), b.Next(uniformBuffer), "lowest free point is reused")

	assert.Empty(t, b.InUse(0x1234))
}

func TestCacheSkipsRedundantBinds(t *testing.T) {
	c := NewCache()
	var calls []uint32
	bind := func(id uint32) { calls = append(calls, id) }

	c.UseProgram(3, bind)
	c.UseProgram(3, bind)
	c.UseProgram(4, bind)
	assert.Equal(t, []uint32{3, 4}, calls)
	assert.Equal(t, 1, c.Skipped)

	calls = nil
	c.BindVertexArray(0, bind)
	c.BindVertexArray(0, bind)
	assert.Equal(t, []uint32{0}, calls, "id 0 is a real binding")

	var targeted [][2]uint32
	bind2 := func(target, id uint32) { targeted = append(targeted, [2]uint32{target, id}) }
	c.BindBuffer(uniformBuffer, 7, bind2)
	c.BindBuffer(storageBuffer, 7, bind2)
	c.BindBuffer(uniformBuffer, 7, bind2)
	c.BindTexture(0, 7, bind2)
	c.BindFramebuffer(0x8D40, 0, bind2)
	c.BindFramebuffer(0x8D40, 0, bind2)
	assert.Equal(t, [][2]uint32{{uniformBuffer, 7}, {storageBuffer, 7}, {0, 7}, {0x8D40, 0}}, targeted)
	assert.Equal(t, 4, c.Skipped)
}

func TestCacheResetAndForget(t *testing.T) {
	c := NewCache()
	n := 0
	bind := func(uint32) { n++ }
	bind2 := func(uint32, uint32) { n++ }

	c.UseProgram(5, bind)
	c.BindBuffer(uniformBuffer, 5, bind2)
	c.BindTexture(1, 9, bind2)
	require.Equal(t, 3, n)

	// пересозданный контекст начинает с чистого листа
	c.Reset()
	assert.Zero(t, c.Skipped)
	c.UseProgram(5, bind)
	c.BindBuffer(uniformBuffer, 5, bind2)
	assert.Equal(t, 5, n)

	// удалённый объект забывается во всех привязках
	c.Forget(5)
	c.UseProgram(5, bind)
	c.BindBuffer(uniformBuffer, 5, bind2)
	assert.Equal(t, 7, n)

	c.BindTexture(1, 9, bind2)
	assert.Equal(t, 8, n, "texture state was dropped by Reset")
	c.BindTexture(1, 9, bind2)
	assert.Equal(t, 8, n)
}
