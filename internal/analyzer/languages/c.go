package languages

import (
	"strings"

	"github.com/CamFlow/callgraphs/internal/analyzer"
	"github.com/CamFlow/callgraphs/internal/graph"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

const (
	cFunctionsQuery = `
		(function_definition
			declarator: (function_declarator declarator: (identifier) @name)) @func
		(function_definition
			declarator: (pointer_declarator
				declarator: (function_declarator declarator: (identifier) @name))) @func
		(function_definition
			declarator: (pointer_declarator
				declarator: (pointer_declarator
					declarator: (function_declarator declarator: (identifier) @name)))) @func
	`
	cPrototypesQuery = `
		(declaration
			declarator: (function_declarator declarator: (identifier) @name)) @decl
		(declaration
			declarator: (pointer_declarator
				declarator: (function_declarator declarator: (identifier) @name))) @decl
	`
	cCallsQuery = `(call_expression function: (identifier) @callee)`

	// Any identifier bound as a variable or parameter. Calling one of these
	// goes through a pointer, not to a named function.
	cVariablesQuery = `
		(parameter_declaration declarator: (identifier) @param)
		(parameter_declaration
			declarator: (function_declarator
				declarator: (parenthesized_declarator
					(pointer_declarator declarator: (identifier) @param))))
		(declaration declarator: (identifier) @var)
		(init_declarator declarator: (identifier) @var)
		(declaration
			declarator: (function_declarator
				declarator: (parenthesized_declarator
					(pointer_declarator declarator: (identifier) @var))))
		(init_declarator
			declarator: (function_declarator
				declarator: (parenthesized_declarator
					(pointer_declarator declarator: (identifier) @var))))
	`
)

// RegisterC adds the C frontend for .c and .h files.
func RegisterC(r *analyzer.Registry) {
	r.Register(&analyzer.LanguageSpec{
		Name:       "c",
		Language:   c.GetLanguage(),
		Frontend:   cFrontend{},
		Extensions: []string{"c", "h"},
	})
}

type cFrontend struct{}

// cDecl is what the unit says about one function name.
type cDecl struct {
	line   int
	static bool
}

func (cFrontend) Observe(unit analyzer.Unit, root *sitter.Node) ([]graph.Observation, error) {
	lang := c.GetLanguage()
	queries := make([]*analyzer.Query, 0, 4)
	defer func() {
		for _, q := range queries {
			q.Close()
		}
	}()
	compile := func(src string) (*analyzer.Query, error) {
		q, err := analyzer.NewQuery(lang, src)
		if err == nil {
			queries = append(queries, q)
		}
		return q, err
	}
	funcs, err := compile(cFunctionsQuery)
	if err != nil {
		return nil, err
	}
	protos, err := compile(cPrototypesQuery)
	if err != nil {
		return nil, err
	}
	calls, err := compile(cCallsQuery)
	if err != nil {
		return nil, err
	}
	vars, err := compile(cVariablesQuery)
	if err != nil {
		return nil, err
	}

	src := unit.Src
	decls := make(map[string]*cDecl)
	for _, m := range protos.Matches(root) {
		name := m["name"].Content(src)
		d := decls[name]
		if d == nil {
			d = &cDecl{line: analyzer.Line(m["name"])}
			decls[name] = d
		}
		d.static = d.static || hasStorageClass(m["decl"], src, "static")
	}

	type definition struct {
		name string
		node *sitter.Node
	}
	var defs []definition
	for _, m := range funcs.Matches(root) {
		name := m["name"].Content(src)
		d := decls[name]
		if d == nil {
			d = &cDecl{}
			decls[name] = d
		}
		d.line = analyzer.Line(m["name"])
		d.static = d.static || hasStorageClass(m["func"], src, "static")
		defs = append(defs, definition{name: name, node: m["func"]})
	}

	fileVars, funcVars := cBoundNames(vars, root, src)

	identity := func(name string) graph.Identity {
		d, ok := decls[name]
		if !ok {
			return graph.Identity{Name: name, Scope: graph.Global}
		}
		id := graph.Identity{Name: name, File: unit.Path, Line: d.line, Scope: graph.Global}
		if d.static {
			id.Scope = graph.Local
		}
		return id
	}

	obs := make([]graph.Observation, 0, len(defs))
	for _, def := range defs {
		o := graph.Observation{Caller: identity(def.name)}
		local := funcVars[def.node.StartByte()]
		for _, m := range calls.Matches(def.node) {
			name := m["callee"].Content(src)
			if strings.HasPrefix(name, "__builtin_") || local[name] {
				continue
			}
			if fileVars[name] && decls[name] == nil {
				continue
			}
			o.Callees = append(o.Callees, identity(name))
		}
		o.Callees = o.DistinctCallees()
		obs = append(obs, o)
	}
	return obs, nil
}

// cBoundNames splits variable and parameter names into file scope and the
// scope of each function definition, keyed by the definition's start byte.
func cBoundNames(vars *analyzer.Query, root *sitter.Node, src []byte) (map[string]bool, map[uint32]map[string]bool) {
	fileVars := make(map[string]bool)
	funcVars := make(map[uint32]map[string]bool)
	for _, m := range vars.Matches(root) {
		n, isParam := m["param"], true
		if n == nil {
			n, isParam = m["var"], false
		}
		if n == nil {
			continue
		}
		fn := analyzer.Enclosing(n, "function_definition")
		if fn == nil {
			// Parameters of prototypes do not bind anything at file scope.
			if !isParam {
				fileVars[n.Content(src)] = true
			}
			continue
		}
		set := funcVars[fn.StartByte()]
		if set == nil {
			set = make(map[string]bool)
			funcVars[fn.StartByte()] = set
		}
		set[n.Content(src)] = true
	}
	return fileVars, funcVars
}

func hasStorageClass(n *sitter.Node, src []byte, class string) bool {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "storage_class_specifier" && child.Content(src) == class {
			return true
		}
	}
	return false
}
