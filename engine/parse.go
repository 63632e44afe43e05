package engine

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// typeGrammar is a CQL type expression such as map<int, frozen<list<text>>>.
//
//nolint:govet // participle grammar tags are not standard struct tags
type typeGrammar struct {
	Name string         `@Ident`
	Args []*typeGrammar `( "<" @@ ( "," @@ )* ">" )?`
}

// userTypeGrammar declares a structure type: name(field type, ...).
//
//nolint:govet // participle grammar tags are not standard struct tags
type userTypeGrammar struct {
	Name   string          `@Ident "("`
	Fields []*fieldGrammar `@@ ( "," @@ )* ")"`
}

//nolint:govet // participle grammar tags are not standard struct tags
type fieldGrammar struct {
	Name string       `@Ident`
	Type *typeGrammar `@@`
}

var typeLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_.]*`},
	{Name: "Punct", Pattern: `[<>,()]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var (
	typeParser = participle.MustBuild[typeGrammar](
		participle.Lexer(typeLexer),
		participle.Elide("Whitespace"),
	)
	userTypeParser = participle.MustBuild[userTypeGrammar](
		participle.Lexer(typeLexer),
		participle.Elide("Whitespace"),
	)
)

// ParseType parses a CQL type expression. Names that are not built-in
// types are looked up in userTypes.
func ParseType(s string, userTypes map[string]*Type) (*Type, error) {
	g, err := typeParser.ParseString("", s)
	if err != nil {
		return nil, fmt.Errorf("invalid type %q: %w", s, err)
	}
	return g.build(userTypes)
}

// ParseUserType parses a structure type declaration such as
// "my_type(my_int int, my_double double)". Field types may refer to
// previously declared userTypes.
func ParseUserType(s string, userTypes map[string]*Type) (*Type, error) {
	g, err := userTypeParser.ParseString("", s)
	if err != nil {
		return nil, fmt.Errorf("invalid user type %q: %w", s, err)
	}
	fields := make([]Field, 0, len(g.Fields))
	seen := make(map[string]bool)
	for _, f := range g.Fields {
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate field %s in user type %s", f.Name, g.Name)
		}
		seen[f.Name] = true
		ft, err := f.Type.build(userTypes)
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: f.Name, Type: ft})
	}
	return UserType(g.Name, fields...), nil
}

func (g *typeGrammar) build(userTypes map[string]*Type) (*Type, error) {
	name := strings.ToLower(g.Name)
	args := make([]*Type, len(g.Args))
	for i, a := range g.Args {
		t, err := a.build(userTypes)
		if err != nil {
			return nil, err
		}
		args[i] = t
	}
	arity := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s expects %d type arguments, got %d", name, n, len(args))
		}
		return nil
	}
	switch name {
	case "list", "set":
		if err := arity(1); err != nil {
			return nil, err
		}
		if name == "list" {
			return ListOf(args[0]), nil
		}
		return SetOf(args[0]), nil
	case "map":
		if err := arity(2); err != nil {
			return nil, err
		}
		return MapOf(args[0], args[1]), nil
	case "tuple":
		if len(args) == 0 {
			return nil, fmt.Errorf("tuple expects at least one type argument")
		}
		return TupleOf(args...), nil
	case "frozen":
		if err := arity(1); err != nil {
			return nil, err
		}
		return FrozenOf(args[0]), nil
	}
	if err := arity(0); err != nil {
		return nil, err
	}
	if t, ok := scalarTypes[name]; ok {
		return t, nil
	}
	if t, ok := userTypes[g.Name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown type %s", g.Name)
}
