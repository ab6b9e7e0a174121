// Package store holds the latest report per tenant in memory with TTL eviction.
package store
