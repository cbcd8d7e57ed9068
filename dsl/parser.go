package dsl

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	scriptLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `[ \t\r]+`},
		{Name: "Newline", Pattern: `\n+`},
		{Name: "BlockComment", Pattern: `/\*[^*]*\*+(?:[^/*][^*]*\*+)*/`},
		{Name: "LineComment", Pattern: `//[^\n]*`},
		{Name: "HashComment", Pattern: `#[^\n]*`},
		{Name: "Number", Pattern: `-?(?:\d+\.\d+|\d+|\.\d+)(?:px|%)?`},
		{Name: "String", Pattern: `"(?:\\.|[^"])*"`},
		{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_-]*`},
		{Name: "Symbol", Pattern: `[;,]`},
		{Name: "LBrace", Pattern: `{`},
		{Name: "RBrace", Pattern: `}`},
	})

	scriptParser = participle.MustBuild[Script](
		participle.Lexer(scriptLexer),
		participle.Elide("Whitespace", "LineComment", "BlockComment", "HashComment"),
	)
)

// Script is the root AST node of a caption script:
//
//	meme "Two Buttons" {
//	  image "https://i.imgflip.com/1g8my4.jpg" dims 600 908
//	  defaults size 48 align center
//	  label "TOP" at 50% 10%
//	  label "${user.name}" at 0.5 0.9 box 80% 20% align left
//	}
type Script struct {
	Pos        lexer.Position `parser:"" json:"-"`
	Name       StringLiteral  `parser:"Newline* 'meme' @String"`
	Statements []*Statement   `parser:"'{' Newline* ( @@ ( ';' | Newline )* )* '}' Newline*"`
}

// Statement is one line inside the meme block.
type Statement struct {
	Image    *ImageStatement    `parser:"  @@"`
	Defaults *DefaultsStatement `parser:"| @@"`
	Label    *LabelStatement    `parser:"| @@"`
}

// Kind returns the human-readable statement type.
func (s *Statement) Kind() string {
	switch {
	case s == nil:
		return "unknown"
	case s.Image != nil:
		return "image"
	case s.Defaults != nil:
		return "defaults"
	case s.Label != nil:
		return "label"
	default:
		return "unknown"
	}
}

// ImageStatement selects the template image.
type ImageStatement struct {
	Pos     lexer.Position `parser:"" json:"-"`
	Src     StringLiteral  `parser:"'image' @String"`
	Options []*Option      `parser:"@@*"`
}

// DefaultsStatement sets control defaults for the labels that follow it.
type DefaultsStatement struct {
	Pos     lexer.Position `parser:"" json:"-"`
	Options []*Option      `parser:"'defaults' @@+"`
}

// LabelStatement places one caption.
type LabelStatement struct {
	Pos     lexer.Position `parser:"" json:"-"`
	Text    StringLiteral  `parser:"'label' @String"`
	At      *Pair          `parser:"'at' @@"`
	Options []*Option      `parser:"@@*"`
}

// Option is a keyword argument trailing a statement.
type Option struct {
	Pos   lexer.Position `parser:"" json:"-"`
	Size  *Number        `parser:"  'size' @Number"`
	Align *string        `parser:"| 'align' @Ident"`
	Box   *Pair          `parser:"| 'box' @@"`
	Dims  *Pair          `parser:"| 'dims' @@"`
	Name  *StringLiteral `parser:"| 'name' @String"`
}

// Pair is two numbers, for positions and sizes.
type Pair struct {
	X Number `parser:"@Number ','?"`
	Y Number `parser:"@Number"`
}

// Number is a numeric literal with an optional unit suffix ("%" or "px").
type Number struct {
	Value float64
	Unit  string
}

// Capture implements participle.Capture.
func (n *Number) Capture(values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("number capture requires value")
	}
	raw := values[0]
	unit := ""
	switch {
	case strings.HasSuffix(raw, "%"):
		unit = "%"
	case strings.HasSuffix(raw, "px"):
		unit = "px"
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(raw, unit), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", raw, err)
	}
	*n = Number{Value: v, Unit: unit}
	return nil
}

// Fraction interprets the number as a fraction of the image size:
// "50%" and "0.5" are both 0.5.
func (n Number) Fraction() float64 {
	if n.Unit == "%" {
		return n.Value / 100
	}
	return n.Value
}

// StringLiteral unquotes Go-style strings on capture.
type StringLiteral string

// Capture implements participle.Capture.
func (s *StringLiteral) Capture(values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("string literal capture requires value")
	}
	val, err := strconv.Unquote(values[0])
	if err != nil {
		return err
	}
	*s = StringLiteral(val)
	return nil
}

// Parse parses a caption script from an io.Reader.
func Parse(r io.Reader) (*Script, error) {
	return scriptParser.Parse("", r)
}

// ParseString parses a caption script from a string.
func ParseString(input string) (*Script, error) {
	return scriptParser.ParseString("", input)
}
