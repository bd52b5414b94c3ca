// Package source supplies the policy sets consumed by the evaluation
// engine.
//
// ActiveSet is a read-through cache over a policy.Store; callers
// invalidate it when policies change. FileSource loads policy documents
// from YAML files, and FileWatcher reloads them on disk changes.
package source
