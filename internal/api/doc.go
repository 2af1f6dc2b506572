// Package api is the central coordination hub for all hyperregistry
// subsystems. It owns the shared data model (Entry, FeatureLayer, GEFS,
// Stream, PropagationSession, HotSwapTransition), the typed error
// taxonomy, and the handler registry through which subsystems reach each
// other without direct imports.
//
// # Service Locator Pattern
//
// Subsystems never import each other directly. Instead, each one
// implements a handler interface defined here and registers it during
// bootstrap:
//
//	api.RegisterRegistry(registryAdapter)
//	api.RegisterPropagation(propagationAdapter)
//
// Consumers retrieve handlers through the matching Get function:
//
//	reg := api.GetRegistry()
//	entry, err := reg.Get(ctx, id)
//
// This keeps the dependency graph acyclic: every internal package depends
// on api, and api depends on nothing inside internal/.
//
// # Error Taxonomy
//
// All cross-subsystem failures are expressed as the typed errors in
// errors.go (ValidationError, NotFoundError, ConflictError, ...). Callers
// test for them with the Is* predicates, which unwrap wrapped errors:
//
//	if api.IsNotFound(err) { ... }
package api
