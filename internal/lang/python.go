package lang

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/weft-tools/loupe/internal/graph"
)

// PythonAnalyzer extracts entities and references from Python source using
// tree-sitter. Each Analyze call creates its own parser instance, so the
// analyzer is safe for concurrent use.
type PythonAnalyzer struct {
	maxFileSize int64
}

// NewPythonAnalyzer creates a Python analyzer.
func NewPythonAnalyzer() *PythonAnalyzer {
	return &PythonAnalyzer{maxFileSize: DefaultMaxFileSize}
}

// Language returns "python".
func (a *PythonAnalyzer) Language() string { return "python" }

// Extensions returns the handled extensions.
func (a *PythonAnalyzer) Extensions() []string { return []string{".py", ".pyi"} }

// Analyze parses one Python file. Tree-sitter is error-tolerant: syntax
// errors mark the result partial but extraction still walks the recovered
// tree.
func (a *PythonAnalyzer) Analyze(ctx context.Context, content []byte, path string) (*FileResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int64(len(content)) > a.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(content))
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%s: %w", path, ErrCorrupted)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	result := &FileResult{
		Path:     path,
		Language: "python",
	}
	fileEntity := newFileEntity(path, "python", countLines(content))
	result.FileEntity = fileEntity.ID
	result.Entities = append(result.Entities, fileEntity)

	root := tree.RootNode()
	if root == nil {
		result.Partial = true
		result.Issues = append(result.Issues, Issue{Message: "parser produced no tree"})
		return result, nil
	}
	if root.HasError() {
		result.Partial = true
		result.Issues = append(result.Issues, Issue{Message: "syntax errors in source"})
	}

	w := &pyWalker{content: content, path: path, result: result}
	w.module(root)
	return result, nil
}

// pyWalker carries the per-file extraction state.
type pyWalker struct {
	content []byte
	path    string
	result  *FileResult
}

func (w *pyWalker) text(n *sitter.Node) string {
	return string(w.content[n.StartByte():n.EndByte()])
}

func (w *pyWalker) site(n *sitter.Node) graph.Site {
	return graph.Site{File: w.path, Line: int(n.StartPoint().Row) + 1}
}

func (w *pyWalker) span(n *sitter.Node) graph.Span {
	return graph.Span{
		StartLine: int(n.StartPoint().Row) + 1,
		StartCol:  int(n.StartPoint().Column),
		EndLine:   int(n.EndPoint().Row) + 1,
		EndCol:    int(n.EndPoint().Column),
	}
}

// module walks the top level of a file: imports, classes, functions, and
// module variables.
func (w *pyWalker) module(root *sitter.Node) {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "import_statement":
			w.importStatement(child)
		case "import_from_statement":
			w.importFromStatement(child)
		case "class_definition":
			w.class(child, "")
		case "function_definition", "decorated_definition":
			w.maybeFunction(child, "", "")
		case "expression_statement":
			w.moduleAssignment(child)
		}
	}
}

// importStatement handles "import foo" and "import foo as bar".
func (w *pyWalker) importStatement(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			w.result.Imports = append(w.result.Imports, Import{Path: w.text(child), Site: w.site(node)})
		case "aliased_import":
			var path, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				switch gc.Type() {
				case "dotted_name":
					path = w.text(gc)
				case "identifier":
					alias = w.text(gc)
				}
			}
			if path != "" {
				w.result.Imports = append(w.result.Imports, Import{Path: path, Alias: alias, Site: w.site(node)})
			}
		}
	}
}

// importFromStatement handles "from pkg import a, b as c".
func (w *pyWalker) importFromStatement(node *sitter.Node) {
	module := node.ChildByFieldName("module_name")
	if module == nil {
		return
	}
	base := w.text(module)
	found := false
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == module {
			continue
		}
		switch child.Type() {
		case "dotted_name", "identifier":
			w.result.Imports = append(w.result.Imports, Import{Path: base + "." + w.text(child), Site: w.site(node)})
			found = true
		case "aliased_import":
			name := child.ChildByFieldName("name")
			alias := child.ChildByFieldName("alias")
			if name != nil {
				imp := Import{Path: base + "." + w.text(name), Site: w.site(node)}
				if alias != nil {
					imp.Alias = w.text(alias)
				}
				w.result.Imports = append(w.result.Imports, imp)
				found = true
			}
		case "wildcard_import":
			w.result.Imports = append(w.result.Imports, Import{Path: base + ".*", Site: w.site(node)})
			found = true
		}
	}
	if !found {
		w.result.Imports = append(w.result.Imports, Import{Path: base, Site: w.site(node)})
	}
}

// class extracts a class definition, its inheritance references, and its
// members.
func (w *pyWalker) class(node *sitter.Node, outer string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)
	qualified := name
	if outer != "" {
		qualified = outer + "." + name
	}
	ent := graph.Entity{
		ID:            graph.NewEntityID(w.path, qualified),
		Name:          name,
		QualifiedName: qualified,
		Kind:          graph.EntityKindClass,
		File:          w.path,
		Span:          w.span(node),
		Visibility:    pyVisibility(name),
		Language:      "python",
		Meta:          graph.EntityMeta{DocComment: w.docstring(node)},
	}
	w.result.Entities = append(w.result.Entities, ent)

	if supers := node.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.ChildCount()); i++ {
			base := supers.Child(i)
			switch base.Type() {
			case "identifier", "attribute":
				w.result.References = append(w.result.References, Reference{
					From: ent.ID,
					Name: w.text(base),
					Kind: graph.EdgeKindInherit,
					Site: w.site(base),
				})
			}
		}
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		switch child.Type() {
		case "function_definition", "decorated_definition":
			w.maybeFunction(child, qualified, name)
		case "class_definition":
			w.class(child, qualified)
		}
	}
}

// maybeFunction unwraps decorators and extracts a function or method.
func (w *pyWalker) maybeFunction(node *sitter.Node, outer, receiver string) {
	fn := node
	if node.Type() == "decorated_definition" {
		fn = node.ChildByFieldName("definition")
		if fn == nil {
			return
		}
		if fn.Type() == "class_definition" {
			w.class(fn, outer)
			return
		}
		if fn.Type() != "function_definition" {
			return
		}
	}
	nameNode := fn.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)
	qualified := name
	if outer != "" {
		qualified = outer + "." + name
	}
	kind := graph.EntityKindFunction
	if receiver != "" {
		kind = graph.EntityKindMethod
	}
	sig := "def " + name
	if params := fn.ChildByFieldName("parameters"); params != nil {
		sig += w.text(params)
	}
	ent := graph.Entity{
		ID:            graph.NewEntityID(w.path, qualified),
		Name:          name,
		QualifiedName: qualified,
		Kind:          kind,
		File:          w.path,
		Span:          w.span(fn),
		Visibility:    pyVisibility(name),
		Language:      "python",
		Meta: graph.EntityMeta{
			Signature:  sig,
			Receiver:   receiver,
			DocComment: w.docstring(fn),
		},
	}
	w.result.Entities = append(w.result.Entities, ent)

	if body := fn.ChildByFieldName("body"); body != nil {
		w.collectCalls(body, ent.ID)
		// Nested defs belong to the enclosing scope's qualified name.
		for i := 0; i < int(body.ChildCount()); i++ {
			child := body.Child(i)
			switch child.Type() {
			case "function_definition", "decorated_definition":
				w.maybeFunction(child, qualified, "")
			case "class_definition":
				w.class(child, qualified)
			}
		}
	}
}

// moduleAssignment extracts module-level variables from simple assignments.
func (w *pyWalker) moduleAssignment(node *sitter.Node) {
	if node.ChildCount() == 0 {
		return
	}
	assign := node.Child(0)
	if assign.Type() != "assignment" {
		return
	}
	left := assign.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return
	}
	name := w.text(left)
	kind := graph.EntityKindVariable
	// Python convention: SCREAMING_SNAKE names are constants.
	if name == strings.ToUpper(name) && strings.ContainsAny(name, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		kind = graph.EntityKindConstant
	}
	w.result.Entities = append(w.result.Entities, graph.Entity{
		ID:            graph.NewEntityID(w.path, name),
		Name:          name,
		QualifiedName: name,
		Kind:          kind,
		File:          w.path,
		Span:          w.span(node),
		Visibility:    pyVisibility(name),
		Language:      "python",
	})
}

// collectCalls walks a body and records a call reference per call site. The
// walk stops at nested definitions; those collect their own calls.
func (w *pyWalker) collectCalls(node *sitter.Node, from graph.EntityID) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "function_definition", "class_definition":
			continue
		case "call":
			if fn := child.ChildByFieldName("function"); fn != nil {
				if name := w.callName(fn); name != "" {
					w.result.References = append(w.result.References, Reference{
						From: from,
						Name: name,
						Kind: graph.EdgeKindCall,
						Site: w.site(child),
					})
				}
			}
		}
		w.collectCalls(child, from)
	}
}

// callName renders the called expression as a dotted name. "self.x" becomes
// "x" so method calls resolve within the enclosing class.
func (w *pyWalker) callName(node *sitter.Node) string {
	switch node.Type() {
	case "identifier":
		return w.text(node)
	case "attribute":
		obj := node.ChildByFieldName("object")
		attr := node.ChildByFieldName("attribute")
		if attr == nil {
			return ""
		}
		if obj != nil {
			base := w.callName(obj)
			if base == "self" || base == "cls" {
				return w.text(attr)
			}
			if base != "" {
				return base + "." + w.text(attr)
			}
		}
		return w.text(attr)
	default:
		return ""
	}
}

// docstring returns the leading string literal of a definition body, if any.
func (w *pyWalker) docstring(def *sitter.Node) string {
	body := def.ChildByFieldName("body")
	if body == nil || body.ChildCount() == 0 {
		return ""
	}
	first := body.Child(0)
	if first.Type() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	str := first.Child(0)
	if str.Type() != "string" {
		return ""
	}
	text := w.text(str)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(text, q) && strings.HasSuffix(text, q) && len(text) >= 2*len(q) {
			return strings.TrimSpace(text[len(q) : len(text)-len(q)])
		}
	}
	return strings.TrimSpace(text)
}

// pyVisibility follows the underscore convention.
func pyVisibility(name string) graph.Visibility {
	if strings.HasPrefix(name, "_") {
		return graph.VisibilityPrivate
	}
	return graph.VisibilityPublic
}
