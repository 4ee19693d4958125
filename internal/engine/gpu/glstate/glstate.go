// Package glstate tracks GL binding points and the last bound object per
// slot for one rendering context. It does not call GL itself, so it is
// usable without a driver.
package glstate

import (
	"errors"
	"fmt"
	"sort"
)

// ErrBindingInUse is returned when reserving a binding point twice.
var ErrBindingInUse = errors.New("binding point already in use")

// Bindings hands out indexed binding points (uniform buffer, shader storage
// buffer, ...) per target. Targets are the raw GL enums.
type Bindings struct {
	used map[uint32]map[uint32]bool
}

// NewBindings returns an empty allocator.
func NewBindings() *Bindings {
	return &Bindings{used: make(map[uint32]map[uint32]bool)}
}

func (b *Bindings) target(t uint32) map[uint32]bool {
	m, ok := b.used[t]
	if !ok {
		m = make(map[uint32]bool)
		b.used[t] = m
	}
	return m
}

// Reserve claims a specific point, as needed for layout(binding = N) in
// shader source.
func (b *Bindings) Reserve(target, point uint32) error {
	m := b.target(target)
	if m[point] {
		return fmt.Errorf("target 0x%x point %d: %w", target, point, ErrBindingInUse)
	}
	m[point] = true
	return nil
}

// Next claims the lowest free point of target.
func (b *Bindings) Next(target uint32) uint32 {
	m := b.target(target)
	var p uint32
	for m[p] {
		p++
	}
	m[p] = true
	return p
}

// Release frees a point.
func (b *Bindings) Release(target, point uint32) {
	delete(b.target(target), point)
}

// InUse lists the claimed points of target in ascending order.
func (b *Bindings) InUse(target uint32) []uint32 {
	m := b.used[target]
	out := make([]uint32, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// none marks a slot whose binding is unknown, forcing the next bind.
const none = ^uint32(0)

// Cache skips redundant binds. Each slot remembers the last id passed
// through it; binding the same id again is a no-op.
type Cache struct {
	program      uint32
	vertexArray  uint32
	framebuffers map[uint32]uint32
	buffers      map[uint32]uint32
	textures     map[uint32]uint32

	// Skipped counts binds avoided since the last Reset.
	Skipped int
}

// NewCache returns a cache where every slot is unknown.
func NewCache() *Cache {
	c := &Cache{}
	c.Reset()
	return c
}

// Reset forgets all bindings. Call it whenever a context is (re)created or
// GL state was changed behind the cache's back.
func (c *Cache) Reset() {
	c.program = none
	c.vertexArray = none
	c.framebuffers = make(map[uint32]uint32)
	c.buffers = make(map[uint32]uint32)
	c.textures = make(map[uint32]uint32)
	c.Skipped = 0
}

func (c *Cache) swap(slot *uint32, id uint32) bool {
	if *slot == id {
		c.Skipped++
		return false
	}
	*slot = id
	return true
}

func (c *Cache) swapIn(m map[uint32]uint32, key, id uint32) bool {
	if cur, ok := m[key]; ok && cur == id {
		c.Skipped++
		return false
	}
	m[key] = id
	return true
}

// UseProgram calls bind when id differs from the current program.
func (c *Cache) UseProgram(id uint32, bind func(uint32)) {
	if c.swap(&c.program, id) {
		bind(id)
	}
}

// BindVertexArray calls bind when id differs from the current VAO.
func (c *Cache) BindVertexArray(id uint32, bind func(uint32)) {
	if c.swap(&c.vertexArray, id) {
		bind(id)
	}
}

// BindFramebuffer calls bind when id differs from what target holds.
func (c *Cache) BindFramebuffer(target, id uint32, bind func(target, id uint32)) {
	if c.swapIn(c.framebuffers, target, id) {
		bind(target, id)
	}
}

// BindBuffer calls bind when id differs from what target holds.
func (c *Cache) BindBuffer(target, id uint32, bind func(target, id uint32)) {
	if c.swapIn(c.buffers, target, id) {
		bind(target, id)
	}
}

// BindTexture calls bind when id differs from what unit holds.
func (c *Cache) BindTexture(unit, id uint32, bind func(unit, id uint32)) {
	if c.swapIn(c.textures, unit, id) {
		bind(unit, id)
	}
}

// Forget drops id from every slot, for use after deleting the object.
func (c *Cache) Forget(id uint32) {
	if c.program == id {
		c.program = none
	}
	if c.vertexArray == id {
		c.vertexArray = none
	}
	for _, m := range []map[uint32]uint32{c.framebuffers, c.buffers, c.textures} {
		for k, v := range m {
			if v == id {
				delete(m, k)
			}
		}
	}
}
