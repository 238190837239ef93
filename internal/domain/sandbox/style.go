package sandbox

import (
	"strings"
	"unicode"

	"github.com/aymerick/douceur/parser"
	"github.com/dop251/goja"
)

// declarations is an ordered inline style
type declarations []declaration

type declaration struct {
	name, value string
	important   bool
}

// parseStyle reads a style attribute. douceur drops a final declaration that
// has no trailing ';', so one is appended before parsing. Text douceur rejects
// falls back to a plain split on ';' so that a malformed attribute never throws
// into the snippet.
func parseStyle(s string) declarations {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if !strings.HasSuffix(s, ";") {
		s += ";"
	}

	var out declarations
	parsed, err := parser.ParseDeclarations(s)
	if err != nil {
		for _, part := range strings.Split(s, ";") {
			name, value, ok := strings.Cut(part, ":")
			if !ok {
				continue
			}
			value, important := cutImportant(value)
			out = out.add(name, value, important)
		}
		return out
	}

	for _, d := range parsed {
		value, important := cutImportant(d.Value)
		out = out.add(d.Property, value, important || d.Important)
	}
	return out
}

func cutImportant(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if i := strings.LastIndexByte(value, '!'); i >= 0 &&
		strings.EqualFold(strings.TrimSpace(value[i+1:]), "important") {
		return strings.TrimSpace(value[:i]), true
	}
	return value, false
}

func (ds declarations) add(name, value string, important bool) declarations {
	name = strings.ToLower(strings.TrimSpace(name))
	ds = ds.set(name, value)
	if important {
		ds = ds.markImportant(name)
	}
	return ds
}

func (ds declarations) get(name string) string {
	for _, d := range ds {
		if d.name == name {
			return d.value
		}
	}
	return ""
}

func (ds declarations) priority(name string) string {
	for _, d := range ds {
		if d.name == name && d.important {
			return "important"
		}
	}
	return ""
}

func (ds declarations) markImportant(name string) declarations {
	for i := range ds {
		if ds[i].name == name {
			ds[i].important = true
		}
	}
	return ds
}

func (ds declarations) set(name, value string) declarations {
	if name == "" {
		return ds
	}
	if value == "" {
		return ds.remove(name)
	}
	for i := range ds {
		if ds[i].name == name {
			ds[i].value = value
			ds[i].important = false
			return ds
		}
	}
	return append(ds, declaration{name: name, value: value})
}

func (ds declarations) remove(name string) declarations {
	for i := range ds {
		if ds[i].name == name {
			return append(ds[:i], ds[i+1:]...)
		}
	}
	return ds
}

func (ds declarations) String() string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		if d.important {
			parts[i] = d.name + ": " + d.value + " !important;"
			continue
		}
		parts[i] = d.name + ": " + d.value + ";"
	}
	return strings.Join(parts, " ")
}

// kebab maps a CSSOM property name ("backgroundColor") to CSS ("background-color")
func kebab(name string) string {
	if strings.Contains(name, "-") {
		return strings.ToLower(name)
	}
	var b strings.Builder
	for _, r := range name {
		if unicode.IsUpper(r) {
			b.WriteByte('-')
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// styleDecl is the CSSStyleDeclaration of one element, backed by its style attribute
type styleDecl struct {
	e *element
}

func (e *element) styleObject() *goja.Object {
	if e.style == nil {
		e.style = e.dom.rt.vm.NewDynamicObject(&styleDecl{e: e})
	}
	return e.style
}

func (s *styleDecl) decls() declarations {
	return parseStyle(attrValue(s.e.node, "style"))
}

func (s *styleDecl) store(ds declarations) {
	if len(ds) == 0 {
		removeAttribute(s.e.node, "style")
		return
	}
	setAttribute(s.e.node, "style", ds.String())
}

func (s *styleDecl) fn(f func(call goja.FunctionCall) goja.Value) goja.Value {
	return s.e.dom.rt.vm.ToValue(f)
}

func (s *styleDecl) Get(key string) goja.Value {
	vm := s.e.dom.rt.vm
	switch key {
	case "setProperty":
		return s.fn(func(call goja.FunctionCall) goja.Value {
			s.store(s.decls().set(kebab(call.Argument(0).String()), stringOrEmpty(call.Argument(1))))
			return goja.Undefined()
		})
	case "getPropertyValue":
		return s.fn(func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(s.decls().get(kebab(call.Argument(0).String())))
		})
	case "removeProperty":
		return s.fn(func(call goja.FunctionCall) goja.Value {
			name := kebab(call.Argument(0).String())
			ds := s.decls()
			old := ds.get(name)
			s.store(ds.remove(name))
			return vm.ToValue(old)
		})
	case "getPropertyPriority":
		return s.fn(func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(s.decls().priority(kebab(call.Argument(0).String())))
		})
	case "cssText":
		return vm.ToValue(s.decls().String())
	case "length":
		return vm.ToValue(len(s.decls()))
	}
	return vm.ToValue(s.decls().get(kebab(key)))
}

func (s *styleDecl) Set(key string, val goja.Value) bool {
	if key == "cssText" {
		s.store(parseStyle(stringOrEmpty(val)))
		return true
	}
	s.store(s.decls().set(kebab(key), stringOrEmpty(val)))
	return true
}

func (s *styleDecl) Has(key string) bool {
	return true
}

func (s *styleDecl) Delete(key string) bool {
	s.store(s.decls().remove(kebab(key)))
	return true
}

func (s *styleDecl) Keys() []string {
	ds := s.decls()
	keys := make([]string, len(ds))
	for i, d := range ds {
		keys[i] = d.name
	}
	return keys
}
