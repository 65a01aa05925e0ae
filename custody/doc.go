// Package custody implements the key custody orchestrator. It combines the
// key-derivation oracle with the encrypted-secret store so that a caller
// either receives its stored encrypted secret or a freshly derived
// encrypted key it can use to create one.
package custody
