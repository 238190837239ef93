package sanitize

import (
	"strconv"
	"strings"
)

// moduleRewriter walks snippet text once, skipping comments and string
// literals, and rewrites the handful of module statement shapes it recognizes:
//
//	import 'loc'
//	import D from 'loc'
//	import * as NS from 'loc'
//	import { a, b as c } from 'loc'
//	import D, * as NS from 'loc' / import D, { a } from 'loc'
//	import('loc')                       (dynamic, any position)
//	export default ... / export const|let|var|function|class|async ...
//	export { a, b } [from 'loc'] / export * [as NS] from 'loc'
//
// A statement that starts like one of these but does not parse is left as is;
// the resulting syntax error surfaces at execution.
type moduleRewriter struct {
	policy ImportPolicy
	loader string
	src    string
}

func newModuleRewriter(policy ImportPolicy, loader string) *moduleRewriter {
	return &moduleRewriter{policy: policy, loader: loader}
}

func (m *moduleRewriter) rewrite(src string) string {
	m.src = src

	var b strings.Builder
	b.Grow(len(src))

	last := 0
	atStmtStart := true
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			if j := strings.IndexByte(src[i:], '\n'); j >= 0 {
				i += j
			} else {
				i = len(src)
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			if j := strings.Index(src[i+2:], "*/"); j >= 0 {
				i += j + 4
			} else {
				i = len(src)
			}
		case c == '\'' || c == '"' || c == '`':
			i = skipString(src, i)
			atStmtStart = false
		case c == '\n' || c == ';' || c == '{' || c == '}':
			atStmtStart = true
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			memberAccess := i > 0 && src[i-1] == '.'

			if !memberAccess && word == "import" && m.isDynamicImport(j) {
				b.WriteString(src[last:i])
				b.WriteString(m.loader)
				last, i = j, j
				atStmtStart = false
				continue
			}
			if atStmtStart && !memberAccess && (word == "import" || word == "export") {
				var (
					end  int
					repl string
					ok   bool
				)
				if word == "import" {
					end, repl, ok = m.importStatement(j)
				} else {
					end, repl, ok = m.exportStatement(j)
				}
				if ok {
					// keep line numbers stable for execution error reports
					b.WriteString(src[last:i])
					b.WriteString(repl)
					b.WriteString(strings.Repeat("\n", strings.Count(src[i:end], "\n")))
					last, i = end, end
					atStmtStart = true
					continue
				}
			}
			atStmtStart = false
			i = j
		default:
			atStmtStart = false
			i++
		}
	}
	b.WriteString(src[last:])
	return b.String()
}

func (m *moduleRewriter) isDynamicImport(p int) bool {
	p = m.skipSpace(p)
	return p < len(m.src) && m.src[p] == '('
}

// importStatement parses from just after the import keyword
func (m *moduleRewriter) importStatement(p int) (int, string, bool) {
	p = m.skipSpace(p)
	if p >= len(m.src) {
		return 0, "", false
	}

	// import 'loc'
	if isQuote(m.src[p]) {
		loc, end, ok := m.stringLiteral(p)
		if !ok {
			return 0, "", false
		}
		return m.finishImport(end, loc, nil)
	}

	var bindings []string
	first := ""
	if isIdentStart(m.src[p]) {
		name, end := m.ident(p)
		if name == "from" || name == "type" {
			return 0, "", false
		}
		bindings = append(bindings, "const "+name+" = %s;")
		first = "default"
		p = m.skipSpace(end)
		if p < len(m.src) && m.src[p] == ',' {
			p = m.skipSpace(p + 1)
		} else {
			return m.fromClause(p, bindings, first)
		}
	}

	switch {
	case p < len(m.src) && m.src[p] == '*':
		p = m.skipSpace(p + 1)
		kw, end := m.ident(p)
		if kw != "as" {
			return 0, "", false
		}
		name, end := m.ident(m.skipSpace(end))
		if name == "" {
			return 0, "", false
		}
		bindings = append(bindings, "const "+name+" = %s;")
		return m.fromClause(end, bindings, first)
	case p < len(m.src) && m.src[p] == '{':
		rb := strings.IndexByte(m.src[p:], '}')
		if rb < 0 {
			return 0, "", false
		}
		pattern, ok := destructure(m.src[p+1 : p+rb])
		if !ok {
			return 0, "", false
		}
		bindings = append(bindings, "const "+pattern+" = %s;")
		return m.fromClause(p+rb+1, bindings, first)
	}
	return 0, "", false
}

// fromClause parses `from 'loc' [;]`. The first binding is the default import
// when firstExport is "default"; every other binding takes the namespace.
func (m *moduleRewriter) fromClause(p int, bindings []string, firstExport string) (int, string, bool) {
	p = m.skipSpace(p)
	kw, end := m.ident(p)
	if kw != "from" {
		return 0, "", false
	}
	p = m.skipSpace(end)
	if p >= len(m.src) || !isQuote(m.src[p]) {
		return 0, "", false
	}
	loc, end, ok := m.stringLiteral(p)
	if !ok {
		return 0, "", false
	}

	stmts := make([]string, len(bindings))
	for i, tmpl := range bindings {
		export := "*"
		if i == 0 && firstExport != "" {
			export = firstExport
		}
		stmts[i] = strings.Replace(tmpl, "%s", m.loadExpr(loc, export), 1)
	}
	return m.finishImport(end, loc, stmts)
}

func (m *moduleRewriter) finishImport(end int, loc string, stmts []string) (int, string, bool) {
	end = m.optionalSemicolon(end)
	if m.policy == PolicyStrip {
		return end, "", true
	}
	if len(stmts) == 0 {
		return end, m.loadExpr(loc, "*") + ";", true
	}
	return end, strings.Join(stmts, " "), true
}

func (m *moduleRewriter) loadExpr(loc, export string) string {
	return "await " + m.loader + "(" + strconv.Quote(loc) + ", " + strconv.Quote(export) + ")"
}

// exportStatement parses from just after the export keyword
func (m *moduleRewriter) exportStatement(p int) (int, string, bool) {
	p = m.skipSpace(p)
	if p >= len(m.src) {
		return 0, "", false
	}

	switch c := m.src[p]; {
	case c == '{':
		rb := strings.IndexByte(m.src[p:], '}')
		if rb < 0 {
			return 0, "", false
		}
		return m.reexportTail(p + rb + 1)
	case c == '*':
		p = m.skipSpace(p + 1)
		if kw, end := m.ident(p); kw == "as" {
			name, end := m.ident(m.skipSpace(end))
			if name == "" {
				return 0, "", false
			}
			p = end
		}
		return m.reexportTail(p)
	case isIdentStart(c):
		word, end := m.ident(p)
		switch word {
		case "const", "let", "var", "function", "class", "async":
			return p, "", true
		case "default":
			return m.exportDefault(m.skipSpace(end))
		}
	}
	return 0, "", false
}

// exportDefault keeps named declarations and turns anything else into a
// discarded expression so it stays valid in statement position.
func (m *moduleRewriter) exportDefault(p int) (int, string, bool) {
	word, end := m.ident(p)
	switch word {
	case "function", "class":
		if name, _ := m.ident(m.skipSpace(end)); name != "" {
			return p, "", true
		}
	case "async":
		if fn, fnEnd := m.ident(m.skipSpace(end)); fn == "function" {
			if name, _ := m.ident(m.skipSpace(fnEnd)); name != "" {
				return p, "", true
			}
		}
	}
	return p, "void ", true
}

func (m *moduleRewriter) reexportTail(p int) (int, string, bool) {
	q := m.skipSpace(p)
	if kw, end := m.ident(q); kw == "from" {
		q = m.skipSpace(end)
		if q >= len(m.src) || !isQuote(m.src[q]) {
			return 0, "", false
		}
		_, end, ok := m.stringLiteral(q)
		if !ok {
			return 0, "", false
		}
		p = end
	}
	return m.optionalSemicolon(p), "", true
}

func (m *moduleRewriter) optionalSemicolon(p int) int {
	q := p
	for q < len(m.src) && (m.src[q] == ' ' || m.src[q] == '\t') {
		q++
	}
	if q < len(m.src) && m.src[q] == ';' {
		return q + 1
	}
	return p
}

func (m *moduleRewriter) skipSpace(p int) int {
	for p < len(m.src) {
		switch m.src[p] {
		case ' ', '\t', '\r', '\n':
			p++
		default:
			return p
		}
	}
	return p
}

func (m *moduleRewriter) ident(p int) (string, int) {
	if p >= len(m.src) || !isIdentStart(m.src[p]) {
		return "", p
	}
	end := p
	for end < len(m.src) && isIdentPart(m.src[end]) {
		end++
	}
	return m.src[p:end], end
}

func (m *moduleRewriter) stringLiteral(p int) (string, int, bool) {
	end := skipString(m.src, p)
	if end > len(m.src) || end-p < 2 || m.src[end-1] != m.src[p] {
		return "", 0, false
	}
	return m.src[p+1 : end-1], end, true
}

// destructure converts an import specifier list body ("a, b as c") into an
// object pattern ("{ a, b: c }").
func destructure(list string) (string, bool) {
	var parts []string
	for _, spec := range strings.Split(list, ",") {
		fields := strings.Fields(spec)
		switch {
		case len(fields) == 0:
			continue
		case len(fields) == 1 && isIdentifier(fields[0]):
			parts = append(parts, fields[0])
		case len(fields) == 3 && fields[1] == "as" && isIdentifier(fields[0]) && isIdentifier(fields[2]):
			parts = append(parts, fields[0]+": "+fields[2])
		default:
			return "", false
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return "{ " + strings.Join(parts, ", ") + " }", true
}

// UsesAwait reports whether src uses the await keyword outside comments,
// string literals and member names. A template literal counts when one of its
// substitutions mentions await.
func UsesAwait(src string) bool {
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			if j := strings.IndexByte(src[i:], '\n'); j >= 0 {
				i += j
			} else {
				i = len(src)
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			if j := strings.Index(src[i+2:], "*/"); j >= 0 {
				i += j + 4
			} else {
				i = len(src)
			}
		case c == '`':
			end := skipString(src, i)
			if lit := src[i:end]; strings.Contains(lit, "${") && strings.Contains(lit, "await") {
				return true
			}
			i = end
		case isQuote(c):
			i = skipString(src, i)
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			if src[i:j] == "await" && (i == 0 || src[i-1] != '.') {
				return true
			}
			i = j
		case c >= '0' && c <= '9':
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
		default:
			i++
		}
	}
	return false
}

// skipString returns the index just past the literal starting at p. Template
// literal substitutions are not tracked.
func skipString(src string, p int) int {
	quote := src[p]
	i := p + 1
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		case '\n':
			if quote != '`' {
				return i
			}
		}
		i++
	}
	return len(src)
}

func isQuote(c byte) bool {
	return c == '\'' || c == '"'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}
