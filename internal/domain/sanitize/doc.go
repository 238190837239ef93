/*
Package sanitize turns untrusted visualization snippets into plain function
bodies the sandbox can execute.

Snippets arrive as free text produced by a model. They are often wrapped in
markdown fences or HTML tags, written as ES modules, and aimed at the page body
instead of the output container. The sanitizer removes the wrapping, neutralizes
module syntax, retargets the mount point and decodes stray HTML entities.

# Steps

 1. Strip markdown fences and inline pre/code tags
 2. Strip script, html, head and body wrapper tags
 3. Rewrite or strip import statements; remove export keywords
 4. Retarget d3.select("body") and document.body to the output container
 5. Qualify bare OrbitControls for 3D snippets
 6. Decode &lt; and &gt;

The steps repeat until the text stops changing, so Sanitize is idempotent.

# Import policy

With PolicyRewrite, static imports become awaited calls to the host loader:

	import * as THREE from 'three'
	// becomes
	const THREE = await __vizImport("three", "*");

With PolicyStrip they are deleted and the snippet relies on library globals.
Dynamic import() calls are routed to the loader under both policies.

Module statements are found with a small scanner that skips strings and
comments. Anything it cannot parse is left for execution to reject.
*/
package sanitize
