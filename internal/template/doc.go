// Package template resolves the {{ variable }} placeholders used in
// propagation rule transforms. Transforms stay declarative and
// deterministic: the engine only substitutes values from the per-hop
// context, it never executes code.
package template
