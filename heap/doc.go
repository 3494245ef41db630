// Package heap provides nested, scope-bound memory regions with explicit
// ownership transfer.
//
// A Heap owns a set of allocations and releases them all at once. Every
// fiber keeps a Stack of heaps: Push opens a nested region, Pop releases
// it, and anything that must outlive the region is moved to the enclosing
// one with Escape. Data crosses between fibers only through Import while a
// join links two stacks.
//
// Released allocations become invalid: Bytes returns nil and Valid reports
// false. The process-wide Global heap is never released.
package heap
