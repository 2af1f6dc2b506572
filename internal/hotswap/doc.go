// Package hotswap replaces an entry's active version without dropping
// consumers: the candidate is staged as a sibling entry, the old version
// drains, an alias flip switches traffic, and a verification window
// decides between commit and rollback. At most one swap runs per entry
// id; concurrent requests queue behind it.
package hotswap
