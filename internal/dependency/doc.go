// Package dependency provides the dependency graph used by the registry
// core to compute transitive closures and find dependents. Graphs are
// rebuilt from entry dependency lists per query; the registry remains the
// single owner of entry state.
package dependency
