package join

import (
	"github.com/NetPo4ki/go-fibers/fiber"
	"github.com/NetPo4ki/go-fibers/heap"
)

// Call is the context of one executing join. The body runs on the client
// fiber and allocates in the client's heaps unless flipped to the server.
type Call struct {
	client *fiber.Fiber
	server *fiber.Fiber
	mode   Mode
	flips  []*heap.Redirect
}

func (c *Call) Client() *fiber.Fiber { return c.client }

// Server returns the ID of the fiber the call was addressed to.
func (c *Call) Server() fiber.ID { return c.server.ID() }

func (c *Call) Mode() Mode { return c.mode }

// Heaps returns the client's heap stack.
func (c *Call) Heaps() *heap.Stack { return c.client.Heaps() }

// FlipToServer sends subsequent allocations to the server's current heap
// until the returned redirect is restored or the call ends.
func (c *Call) FlipToServer() *heap.Redirect {
	r := c.client.Heaps().Switch(c.server.Heaps().Current())
	c.flips = append(c.flips, r)
	return r
}

// Import moves a from the server's heaps into the client's current heap.
func (c *Call) Import(a *heap.Alloc) *heap.Alloc { return c.client.Heaps().Import(a) }

func (c *Call) restore() {
	for i := len(c.flips) - 1; i >= 0; i-- {
		c.flips[i].Restore()
	}
}
