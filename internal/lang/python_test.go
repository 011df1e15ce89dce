package lang

import (
	"context"
	"errors"
	"testing"

	"github.com/weft-tools/loupe/internal/graph"
)

const pySample = `"""Sample module."""
import os
import numpy as np
from collections import OrderedDict

MAX_RETRIES = 3
default_name = "anon"


class Base:
    def ping(self):
        return "pong"


class Server(Base):
    """A server."""

    def greet(self, name):
        return self._format(name)

    def _format(self, name):
        return format_name(name)


def format_name(name):
    return name.upper()
`

func analyzePy(t *testing.T, src string) *FileResult {
	t.Helper()
	res, err := NewPythonAnalyzer().Analyze(context.Background(), []byte(src), "pkg/sample.py")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return res
}

func TestPythonAnalyzeEntities(t *testing.T) {
	res := analyzePy(t, pySample)

	if res.Partial {
		t.Fatalf("unexpected partial result: %v", res.Issues)
	}
	if res.Entities[0].Kind != graph.EntityKindFile {
		t.Fatalf("first entity kind = %s, want file", res.Entities[0].Kind)
	}

	srv := findEntity(t, res, "Server")
	if srv.Kind != graph.EntityKindClass {
		t.Fatalf("Server kind = %s, want class", srv.Kind)
	}
	if srv.Meta.DocComment != "A server." {
		t.Fatalf("Server doc = %q", srv.Meta.DocComment)
	}

	greet := findEntity(t, res, "Server.greet")
	if greet.Kind != graph.EntityKindMethod || greet.Meta.Receiver != "Server" {
		t.Fatalf("greet = %s recv=%q", greet.Kind, greet.Meta.Receiver)
	}
	if f := findEntity(t, res, "Server._format"); f.Visibility != graph.VisibilityPrivate {
		t.Fatalf("_format visibility = %s, want private", f.Visibility)
	}
	if fn := findEntity(t, res, "format_name"); fn.Kind != graph.EntityKindFunction {
		t.Fatalf("format_name kind = %s, want function", fn.Kind)
	}
	if c := findEntity(t, res, "MAX_RETRIES"); c.Kind != graph.EntityKindConstant {
		t.Fatalf("MAX_RETRIES kind = %s, want const", c.Kind)
	}
	if v := findEntity(t, res, "default_name"); v.Kind != graph.EntityKindVariable {
		t.Fatalf("default_name kind = %s, want var", v.Kind)
	}
}

func TestPythonAnalyzeImports(t *testing.T) {
	res := analyzePy(t, pySample)

	want := map[string]string{
		"os":                      "",
		"numpy":                   "np",
		"collections.OrderedDict": "",
	}
	if len(res.Imports) != len(want) {
		t.Fatalf("imports = %d, want %d: %+v", len(res.Imports), len(want), res.Imports)
	}
	for _, imp := range res.Imports {
		alias, ok := want[imp.Path]
		if !ok {
			t.Fatalf("unexpected import %q", imp.Path)
		}
		if imp.Alias != alias {
			t.Fatalf("import %q alias = %q, want %q", imp.Path, imp.Alias, alias)
		}
	}
}

func TestPythonAnalyzeReferences(t *testing.T) {
	res := analyzePy(t, pySample)

	srv := findEntity(t, res, "Server")
	var sawInherit bool
	for _, ref := range res.References {
		if ref.From == srv.ID && ref.Kind == graph.EdgeKindInherit && ref.Name == "Base" {
			sawInherit = true
		}
	}
	if !sawInherit {
		t.Fatal("Server(Base) inheritance not recorded")
	}

	// self._format(...) should resolve to the bare method name.
	greet := findEntity(t, res, "Server.greet")
	var sawSelfCall bool
	for _, ref := range res.References {
		if ref.From == greet.ID && ref.Kind == graph.EdgeKindCall && ref.Name == "_format" {
			sawSelfCall = true
		}
	}
	if !sawSelfCall {
		t.Fatal("self._format call not recorded")
	}

	format := findEntity(t, res, "Server._format")
	var sawCall bool
	for _, ref := range res.References {
		if ref.From == format.ID && ref.Kind == graph.EdgeKindCall && ref.Name == "format_name" {
			sawCall = true
		}
	}
	if !sawCall {
		t.Fatal("format_name call not recorded")
	}
}

func TestPythonAnalyzeSyntaxErrorIsPartial(t *testing.T) {
	res := analyzePy(t, `def ok():
    pass

def broken(:
`)
	if !res.Partial {
		t.Fatal("want partial result for syntax error")
	}
	findEntity(t, res, "ok")
}

func TestPythonAnalyzeCorrupted(t *testing.T) {
	_, err := NewPythonAnalyzer().Analyze(context.Background(), []byte{0xff, 0xfe}, "bad.py")
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("err = %v, want ErrCorrupted", err)
	}
}

func TestPythonAnalyzeNestedClass(t *testing.T) {
	res := analyzePy(t, `class Outer:
    class Inner:
        def run(self):
            pass
`)
	if inner := findEntity(t, res, "Outer.Inner"); inner.Kind != graph.EntityKindClass {
		t.Fatalf("Inner kind = %s, want class", inner.Kind)
	}
	if run := findEntity(t, res, "Outer.Inner.run"); run.Kind != graph.EntityKindMethod {
		t.Fatalf("run kind = %s, want method", run.Kind)
	}
}
