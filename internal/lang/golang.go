package lang

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"strings"
	"unicode/utf8"

	"github.com/weft-tools/loupe/internal/graph"
)

// GoAnalyzer is the reference analyzer. It parses a single Go file with the
// standard parser in error-tolerant mode and extracts declarations, imports,
// call references, and composition via embedded fields.
type GoAnalyzer struct {
	maxFileSize int64
}

// NewGoAnalyzer creates a Go analyzer.
func NewGoAnalyzer() *GoAnalyzer {
	return &GoAnalyzer{maxFileSize: DefaultMaxFileSize}
}

// Language returns "go".
func (a *GoAnalyzer) Language() string { return "go" }

// Extensions returns the handled extensions.
func (a *GoAnalyzer) Extensions() []string { return []string{".go"} }

// Analyze parses one Go source file. Syntax errors degrade the result to a
// partial one containing whatever top-level declarations were recovered; the
// file is never omitted from the result.
func (a *GoAnalyzer) Analyze(ctx context.Context, content []byte, path string) (*FileResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int64(len(content)) > a.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(content))
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%s: %w", path, ErrCorrupted)
	}

	fset := token.NewFileSet()
	file, parseErr := parser.ParseFile(fset, path, content, parser.ParseComments)

	result := &FileResult{
		Path:     path,
		Language: "go",
	}
	fileEntity := newFileEntity(path, "go", countLines(content))
	result.FileEntity = fileEntity.ID
	result.Entities = append(result.Entities, fileEntity)

	if parseErr != nil {
		result.Partial = true
		if list, ok := parseErr.(scanner.ErrorList); ok {
			for _, e := range list {
				result.Issues = append(result.Issues, Issue{Message: e.Msg, Line: e.Pos.Line})
			}
		} else {
			result.Issues = append(result.Issues, Issue{Message: parseErr.Error()})
		}
	}
	if file == nil {
		// Nothing recovered at all; the file entity alone represents it.
		return result, nil
	}

	pkgName := ""
	if file.Name != nil {
		pkgName = file.Name.Name
	}

	for _, imp := range file.Imports {
		impPath := strings.Trim(imp.Path.Value, `"`)
		alias := ""
		if imp.Name != nil {
			alias = imp.Name.Name
		}
		result.Imports = append(result.Imports, Import{
			Path:  impPath,
			Alias: alias,
			Site:  graph.Site{File: path, Line: fset.Position(imp.Pos()).Line},
		})
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			a.extractFunc(fset, result, pkgName, path, d)
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					a.extractType(fset, result, pkgName, path, s)
				case *ast.ValueSpec:
					a.extractValues(fset, result, pkgName, path, s, d.Tok)
				}
			}
		}
	}

	return result, nil
}

// extractFunc converts a function or method declaration to an entity and
// collects the call references inside its body.
func (a *GoAnalyzer) extractFunc(fset *token.FileSet, result *FileResult, pkg, path string, d *ast.FuncDecl) {
	kind := graph.EntityKindFunction
	recv := ""
	qualified := pkg + "." + d.Name.Name
	if d.Recv != nil && len(d.Recv.List) > 0 {
		kind = graph.EntityKindMethod
		recv = receiverType(d.Recv.List[0].Type)
		qualified = pkg + "." + strings.TrimPrefix(recv, "*") + "." + d.Name.Name
	}

	ent := graph.Entity{
		ID:            graph.NewEntityID(path, qualified),
		Name:          d.Name.Name,
		QualifiedName: qualified,
		Kind:          kind,
		File:          path,
		Span:          spanOf(fset, d),
		Visibility:    visibility(d.Name.Name),
		Language:      "go",
		Meta: graph.EntityMeta{
			Receiver:   recv,
			Signature:  funcSignature(d),
			DocComment: docText(d.Doc),
		},
	}
	result.Entities = append(result.Entities, ent)

	if d.Body != nil {
		a.collectCalls(fset, result, ent.ID, path, d.Body)
	}
}

// extractType converts a type declaration to an entity. Embedded struct
// fields become compose references; embedded interfaces become inherit
// references.
func (a *GoAnalyzer) extractType(fset *token.FileSet, result *FileResult, pkg, path string, s *ast.TypeSpec) {
	kind := graph.EntityKindClass
	if _, ok := s.Type.(*ast.InterfaceType); ok {
		kind = graph.EntityKindInterface
	}
	qualified := pkg + "." + s.Name.Name
	ent := graph.Entity{
		ID:            graph.NewEntityID(path, qualified),
		Name:          s.Name.Name,
		QualifiedName: qualified,
		Kind:          kind,
		File:          path,
		Span:          spanOf(fset, s),
		Visibility:    visibility(s.Name.Name),
		Language:      "go",
		Meta:          graph.EntityMeta{DocComment: docText(s.Doc)},
	}
	result.Entities = append(result.Entities, ent)

	switch t := s.Type.(type) {
	case *ast.StructType:
		for _, field := range t.Fields.List {
			if len(field.Names) != 0 {
				continue // named field, not an embedding
			}
			if name := typeName(field.Type); name != "" {
				result.References = append(result.References, Reference{
					From: ent.ID,
					Name: name,
					Kind: graph.EdgeKindCompose,
					Site: graph.Site{File: path, Line: fset.Position(field.Pos()).Line},
				})
			}
		}
	case *ast.InterfaceType:
		for _, method := range t.Methods.List {
			if len(method.Names) != 0 {
				continue // method, not an embedded interface
			}
			if name := typeName(method.Type); name != "" {
				result.References = append(result.References, Reference{
					From: ent.ID,
					Name: name,
					Kind: graph.EdgeKindInherit,
					Site: graph.Site{File: path, Line: fset.Position(method.Pos()).Line},
				})
			}
		}
	}
}

// extractValues converts var and const specs to entities.
func (a *GoAnalyzer) extractValues(fset *token.FileSet, result *FileResult, pkg, path string, s *ast.ValueSpec, tok token.Token) {
	kind := graph.EntityKindVariable
	if tok == token.CONST {
		kind = graph.EntityKindConstant
	}
	for _, name := range s.Names {
		if name.Name == "_" {
			continue
		}
		qualified := pkg + "." + name.Name
		result.Entities = append(result.Entities, graph.Entity{
			ID:            graph.NewEntityID(path, qualified),
			Name:          name.Name,
			QualifiedName: qualified,
			Kind:          kind,
			File:          path,
			Span:          spanOf(fset, name),
			Visibility:    visibility(name.Name),
			Language:      "go",
		})
	}
}

// collectCalls walks a function body and records a call reference per call
// site. Distinct sites between the same pair stay distinct edges.
func (a *GoAnalyzer) collectCalls(fset *token.FileSet, result *FileResult, from graph.EntityID, path string, body *ast.BlockStmt) {
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		name := callName(call.Fun)
		if name == "" {
			return true
		}
		result.References = append(result.References, Reference{
			From: from,
			Name: name,
			Kind: graph.EdgeKindCall,
			Site: graph.Site{File: path, Line: fset.Position(call.Pos()).Line},
		})
		return true
	})
}

// callName renders the called expression as a (possibly dotted) name.
func callName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		if base := callName(e.X); base != "" {
			return base + "." + e.Sel.Name
		}
		return e.Sel.Name
	case *ast.IndexExpr:
		return callName(e.X) // generic instantiation
	case *ast.IndexListExpr:
		return callName(e.X)
	default:
		return ""
	}
}

// typeName extracts the simple name from a type expression, stripping
// pointers and package qualifiers for embeddings.
func typeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return typeName(t.X)
	case *ast.SelectorExpr:
		if base := typeName(t.X); base != "" {
			return base + "." + t.Sel.Name
		}
		return t.Sel.Name
	case *ast.IndexExpr:
		return typeName(t.X)
	default:
		return ""
	}
}

// receiverType formats a method receiver type.
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + receiverType(t.X)
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	default:
		return ""
	}
}

// funcSignature renders a compact signature for display purposes.
func funcSignature(d *ast.FuncDecl) string {
	var b strings.Builder
	b.WriteString("func ")
	b.WriteString(d.Name.Name)
	b.WriteString("(")
	if d.Type.Params != nil {
		for i, p := range d.Type.Params.List {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(typeName(p.Type))
		}
	}
	b.WriteString(")")
	return b.String()
}

func spanOf(fset *token.FileSet, n ast.Node) graph.Span {
	start := fset.Position(n.Pos())
	end := fset.Position(n.End())
	return graph.Span{
		StartLine: start.Line,
		StartCol:  start.Column - 1,
		EndLine:   end.Line,
		EndCol:    end.Column - 1,
	}
}

func visibility(name string) graph.Visibility {
	if name == "" {
		return graph.VisibilityPrivate
	}
	if r := rune(name[0]); r >= 'A' && r <= 'Z' {
		return graph.VisibilityPublic
	}
	return graph.VisibilityPrivate
}

func docText(cg *ast.CommentGroup) string {
	if cg == nil {
		return ""
	}
	return strings.TrimSpace(cg.Text())
}
