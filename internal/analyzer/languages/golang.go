package languages

import (
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/CamFlow/callgraphs/internal/analyzer"
	"github.com/CamFlow/callgraphs/internal/graph"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"golang.org/x/mod/modfile"
)

const (
	goPackageQuery   = `(package_clause (package_identifier) @pkg)`
	goImportsQuery   = `(import_spec path: (interpreted_string_literal) @path) @spec`
	goTypesQuery     = `(type_spec name: (type_identifier) @type)`
	goFunctionsQuery = `
		(function_declaration name: (identifier) @name) @func
		(method_declaration receiver: (parameter_list) @recv name: (field_identifier) @name) @func
	`
	goCallsQuery = `
		(call_expression function: (identifier) @callee)
		(call_expression
			function: (selector_expression
				operand: (identifier) @pkg
				field: (field_identifier) @callee))
	`
	goLocalsQuery = `
		(short_var_declaration left: (expression_list (identifier) @var))
		(var_spec name: (identifier) @var)
		(parameter_declaration name: (identifier) @var)
		(range_clause left: (expression_list (identifier) @var))
	`
)

// Predeclared functions and types. Calling a type is a conversion.
var goPredeclared = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "complex": true, "copy": true,
	"delete": true, "imag": true, "len": true, "make": true, "max": true, "min": true,
	"new": true, "panic": true, "print": true, "println": true, "real": true, "recover": true,
	"any": true, "bool": true, "byte": true, "comparable": true, "complex64": true, "complex128": true,
	"error": true, "float32": true, "float64": true, "int": true, "int8": true, "int16": true,
	"int32": true, "int64": true, "rune": true, "string": true, "uint": true, "uint8": true,
	"uint16": true, "uint32": true, "uint64": true, "uintptr": true,
}

// RegisterGo adds the Go frontend for .go files. Every Go function is a
// global identity named by its package import path.
func RegisterGo(r *analyzer.Registry) {
	r.Register(&analyzer.LanguageSpec{
		Name:       "go",
		Language:   golang.GetLanguage(),
		Frontend:   &goFrontend{},
		Extensions: []string{"go"},
	})
}

type goFrontend struct {
	modules sync.Map // directory → module root and path, or nil
}

type goModule struct {
	root string
	path string
}

func (f *goFrontend) Observe(unit analyzer.Unit, root *sitter.Node) ([]graph.Observation, error) {
	lang := golang.GetLanguage()
	srcs := []string{goPackageQuery, goImportsQuery, goTypesQuery, goFunctionsQuery, goCallsQuery, goLocalsQuery}
	qs := make([]*analyzer.Query, 0, len(srcs))
	defer func() {
		for _, q := range qs {
			q.Close()
		}
	}()
	for _, s := range srcs {
		q, err := analyzer.NewQuery(lang, s)
		if err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	pkgQ, importsQ, typesQ, funcsQ, callsQ, localsQ := qs[0], qs[1], qs[2], qs[3], qs[4], qs[5]
	src := unit.Src

	var pkgName string
	if ms := pkgQ.Matches(root); len(ms) > 0 {
		pkgName = ms[0]["pkg"].Content(src)
	}
	pkgPath := f.importPath(unit, pkgName)

	imports := make(map[string]string)
	for _, m := range importsQ.Matches(root) {
		p, err := strconv.Unquote(m["path"].Content(src))
		if err != nil {
			continue
		}
		name := importName(p)
		if alias := m["spec"].ChildByFieldName("name"); alias != nil {
			if alias.Type() != "package_identifier" {
				// Dot and blank imports add no qualifier.
				continue
			}
			name = alias.Content(src)
		}
		imports[name] = p
	}

	types := make(map[string]bool)
	for _, m := range typesQ.Matches(root) {
		types[m["type"].Content(src)] = true
	}

	type definition struct {
		id   graph.Identity
		node *sitter.Node
	}
	var defs []definition
	topLevel := make(map[string]graph.Identity)
	for _, m := range funcsQ.Matches(root) {
		name := m["name"].Content(src)
		id := graph.Identity{File: unit.Path, Line: analyzer.Line(m["name"]), Scope: graph.Global}
		if recv := m["recv"]; recv != nil {
			id.Name = pkgPath + "." + receiverType(recv, src) + "." + name
		} else {
			id.Name = pkgPath + "." + name
			topLevel[name] = id
		}
		defs = append(defs, definition{id: id, node: m["func"]})
	}

	// Package-level variables hold function values; calling one is indirect.
	pkgVars := make(map[string]bool)
	for _, m := range localsQ.Matches(root) {
		n := m["var"]
		if n.Parent().Type() != "var_spec" || insideFunction(n) {
			continue
		}
		if _, ok := topLevel[n.Content(src)]; !ok {
			pkgVars[n.Content(src)] = true
		}
	}

	obs := make([]graph.Observation, 0, len(defs))
	for _, def := range defs {
		locals := make(map[string]bool)
		for _, m := range localsQ.Matches(def.node) {
			locals[m["var"].Content(src)] = true
		}

		o := graph.Observation{Caller: def.id}
		for _, m := range callsQ.Matches(def.node) {
			name := m["callee"].Content(src)
			if pkg := m["pkg"]; pkg != nil {
				qual := pkg.Content(src)
				imp, ok := imports[qual]
				if !ok || locals[qual] {
					// Method call on a value.
					continue
				}
				o.Callees = append(o.Callees, graph.Identity{Name: imp + "." + name, Scope: graph.Global})
				continue
			}
			if goPredeclared[name] || types[name] || locals[name] || pkgVars[name] {
				continue
			}
			if id, ok := topLevel[name]; ok {
				o.Callees = append(o.Callees, id)
				continue
			}
			o.Callees = append(o.Callees, graph.Identity{Name: pkgPath + "." + name, Scope: graph.Global})
		}
		o.Callees = o.DistinctCallees()
		obs = append(obs, o)
	}
	return obs, nil
}

func insideFunction(n *sitter.Node) bool {
	for _, typ := range []string{"function_declaration", "method_declaration", "func_literal"} {
		if analyzer.Enclosing(n, typ) != nil {
			return true
		}
	}
	return false
}

// receiverType renders a method receiver as (T) or (*T).
func receiverType(recv *sitter.Node, src []byte) string {
	t := analyzer.FirstOfType(recv, "type_identifier")
	if t == nil {
		return "(?)"
	}
	if analyzer.FirstOfType(recv, "pointer_type") != nil {
		return "(*" + t.Content(src) + ")"
	}
	return "(" + t.Content(src) + ")"
}

// importPath derives the package import path from the enclosing go.mod. Units
// outside any module fall back to the package name.
func (f *goFrontend) importPath(unit analyzer.Unit, pkgName string) string {
	abs := unit.Abs
	if abs == "" {
		abs = unit.Path
	}
	dir := filepath.Dir(abs)
	p := pkgName
	if mod := f.module(dir); mod != nil {
		rel, err := filepath.Rel(mod.root, dir)
		if err == nil {
			p = path.Join(mod.path, filepath.ToSlash(rel))
		}
	}
	if strings.HasSuffix(pkgName, "_test") && !strings.HasSuffix(p, "_test") {
		p += "_test"
	}
	if p == "" {
		p = "main"
	}
	return p
}

func (f *goFrontend) module(dir string) *goModule {
	if v, ok := f.modules.Load(dir); ok {
		return v.(*goModule)
	}
	var mod *goModule
	if data, err := os.ReadFile(filepath.Join(dir, "go.mod")); err == nil {
		if mp := modfile.ModulePath(data); mp != "" {
			mod = &goModule{root: dir, path: mp}
		}
	} else if parent := filepath.Dir(dir); parent != dir {
		mod = f.module(parent)
	}
	f.modules.Store(dir, mod)
	return mod
}

// importName is the default package name for an import path: the last
// element, skipping a major version suffix and any gopkg.in ".vN".
func importName(p string) string {
	elems := strings.Split(p, "/")
	name := elems[len(elems)-1]
	if len(elems) > 1 && isMajorVersion(name) {
		name = elems[len(elems)-2]
	}
	if i := strings.Index(name, ".v"); i > 0 {
		name = name[:i]
	}
	return strings.ReplaceAll(name, "-", "_")
}

func isMajorVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	_, err := strconv.Atoi(s[1:])
	return err == nil
}
