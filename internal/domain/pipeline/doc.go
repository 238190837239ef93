/*
Package pipeline turns visualization requests into rendered container
content.

Each Submit call is one pass:

	idle -> sanitizing -> resolving_dependencies -> executing -> settled -> idle

The route is chosen first. Sanitization and library resolution then run
concurrently, and execution runs under a single lock because every pass shares
one runtime and one container.

# Ordering

Passes are numbered on arrival. A pass that reaches execution claims its
number; from then on any pass with a lower number is discarded, both when it
is about to execute and when it is about to commit. A discarded pass changes
nothing on the host, so a slow early request can never overwrite a later one.

# Outcomes

	succeeded  draft committed, error cleared
	failed     draft rolled back, error shown, previous output kept
	noop       sanitized code was empty, host untouched
	rejected   no route for the dimension, container untouched
	stale      discarded, host untouched
*/
package pipeline
