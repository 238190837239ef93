/*
Package host manages the output container.

The Host keeps a small HTML document with one container element. An execution
works on a Draft:

	d := h.Prepare(route.SharedPlane)
	// run the snippet against d.Node()
	h.Commit(d) // or h.Rollback(d)

A cleared draft is a fresh container swapped into the document; Rollback puts
the previous one back untouched. A shared-plane draft is the committed
container itself, so nodes a snippet holds on to stay live across passes;
Rollback restores its subtree in place from the image Prepare captured.
Readers such as HTML, Snapshot and Query only ever see committed output.
*/
package host
