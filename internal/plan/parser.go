package plan

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/calyptra/planrun/internal/concept"
	"github.com/calyptra/planrun/internal/quant"
	"github.com/calyptra/planrun/internal/ref"
)

// The plan wire format is line-oriented. Blank lines and full-line comments
// (leading '#') are ignored. Remaining lines are one of:
//
//	ground <concept> = <literal>      supply an external input
//	output <concept>                  mark a terminal concept
//	<idx> ! <function> <out> :<sequence> [?flag] [%key=value] [each ...]
//	<idx> + <concept> [<:{n}>]        attach a value/context concept
//
// Concept names are delimited: {} object, [] collection, <> condition
// (condition names bind as context concepts). The positional annotation
// `<:{n}>` establishes argument order for multi-input functions. Quantifier
// expressions (`each [base]/axis ...`) ride inline on the functional marker
// and consume the rest of the line; see quant.Parse for their grammar.
//
// Literals: a double-quoted string, an integer, or a bracketed list of
// scalars (the list axis is named after the concept).

// syntacticFunctions are operator tokens the engine resolves mechanically,
// without the language-capability collaborator.
var syntacticFunctions = map[string]bool{
	"and_in":    true,
	"or_across": true,
	"assign":    true,
	"gate":      true,
}

type parser struct {
	file  string
	graph *Graph
}

func (p *parser) errf(line int, code, format string, args ...any) error {
	return &LoadError{File: p.file, Line: line, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Load parses and validates a serialized plan. Validation covers flow-index
// well-formedness, parent existence, sibling uniqueness, concept
// declarations, and acyclicity of the derived dependency graph; any
// violation is fatal before execution begins.
func Load(r io.Reader, file string) (*Graph, error) {
	p := &parser{file: file, graph: newGraph()}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := p.parseLine(lineNo, line); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	if err := p.graph.validate(file); err != nil {
		return nil, err
	}
	return p.graph, nil
}

func (p *parser) parseLine(lineNo int, line string) error {
	switch {
	case strings.HasPrefix(line, "ground "):
		return p.parseGround(lineNo, strings.TrimPrefix(line, "ground "))
	case strings.HasPrefix(line, "output "):
		return p.parseOutput(lineNo, strings.TrimPrefix(line, "output "))
	}

	idxTok, rest, ok := strings.Cut(line, " ")
	if !ok {
		return p.errf(lineNo, ErrCodeSyntax, "expected marker after flow index in %q", line)
	}
	idx, err := ParseFlowIndex(idxTok)
	if err != nil {
		return p.errf(lineNo, ErrCodeFlowIndex, "%v", err)
	}

	rest = strings.TrimSpace(rest)
	switch {
	case strings.HasPrefix(rest, "! "):
		return p.parseFunctional(lineNo, idx, strings.TrimSpace(rest[2:]))
	case strings.HasPrefix(rest, "+ "):
		return p.parseValueMarker(lineNo, idx, strings.TrimSpace(rest[2:]))
	default:
		return p.errf(lineNo, ErrCodeSyntax, "expected '!' or '+' marker, got %q", rest)
	}
}

func (p *parser) parseGround(lineNo int, rest string) error {
	nameTok, lit, ok := strings.Cut(rest, "=")
	if !ok {
		return p.errf(lineNo, ErrCodeSyntax, "ground declaration needs '=': %q", rest)
	}
	name := strings.TrimSpace(nameTok)
	if !isDelimitedName(name) {
		return p.errf(lineNo, ErrCodeSyntax, "ground concept %q is not delimited", name)
	}
	value, err := parseLiteral(strings.TrimSpace(lit), bareName(name))
	if err != nil {
		return p.errf(lineNo, ErrCodeSyntax, "ground %s: %v", name, err)
	}
	p.graph.grounds[name] = value
	return nil
}

func (p *parser) parseOutput(lineNo int, rest string) error {
	name := strings.TrimSpace(rest)
	if !isDelimitedName(name) {
		return p.errf(lineNo, ErrCodeSyntax, "output concept %q is not delimited", name)
	}
	p.graph.outputs[name] = true
	return nil
}

func (p *parser) parseFunctional(lineNo int, idx FlowIndex, rest string) error {
	if _, dup := p.graph.nodes[idx]; dup {
		return p.errf(lineNo, ErrCodeDuplicateNode, "node %s already declared", idx)
	}

	// A quantifier clause consumes the rest of the line.
	var quantExpr string
	if at := strings.Index(rest, " each "); at >= 0 {
		quantExpr = strings.TrimSpace(rest[at:])
		rest = strings.TrimSpace(rest[:at])
	}

	fields := strings.Fields(rest)
	if len(fields) < 3 {
		return p.errf(lineNo, ErrCodeSyntax, "functional marker needs function, output, and sequence")
	}
	function := fields[0]
	out := fields[1]
	if !isDelimitedName(out) {
		return p.errf(lineNo, ErrCodeSyntax, "concept-to-infer %q is not delimited", out)
	}
	if !strings.HasPrefix(fields[2], ":") {
		return p.errf(lineNo, ErrCodeSyntax, "sequence token %q must start with ':'", fields[2])
	}
	seq, err := ParseSequence(fields[2][1:])
	if err != nil {
		return p.errf(lineNo, ErrCodeUnknownSequence, "%v", err)
	}

	node := &Node{
		Index:          idx,
		Function:       function,
		Infer:          out,
		Sequence:       seq,
		Interpretation: map[string]string{},
	}

	for _, tok := range fields[3:] {
		switch {
		case strings.HasPrefix(tok, "?"):
			if err := applyFlag(&node.Flags, tok[1:]); err != nil {
				return p.errf(lineNo, ErrCodeSyntax, "%v", err)
			}
		case strings.HasPrefix(tok, "%"):
			key, value, ok := strings.Cut(tok[1:], "=")
			if !ok {
				return p.errf(lineNo, ErrCodeSyntax, "interpretation token %q needs key=value", tok)
			}
			node.Interpretation[key] = value
		default:
			return p.errf(lineNo, ErrCodeSyntax, "unexpected token %q on functional marker", tok)
		}
	}

	if quantExpr != "" {
		if seq != SeqQuantifying {
			return p.errf(lineNo, ErrCodeQuantifier, "quantifier clause on non-quantifying node %s", idx)
		}
		q, err := quant.Parse(quantExpr)
		if err != nil {
			return p.errf(lineNo, ErrCodeQuantifier, "%v", err)
		}
		node.Quantifier = q
	} else if seq == SeqQuantifying {
		return p.errf(lineNo, ErrCodeQuantifier, "quantifying node %s has no quantifier clause", idx)
	}

	p.graph.nodes[idx] = node
	p.graph.order = append(p.graph.order, idx)
	return nil
}

func (p *parser) parseValueMarker(lineNo int, idx FlowIndex, rest string) error {
	node, ok := p.graph.nodes[idx]
	if !ok {
		return p.errf(lineNo, ErrCodeSyntax, "value marker for undeclared node %s", idx)
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 || !isDelimitedName(fields[0]) {
		return p.errf(lineNo, ErrCodeSyntax, "value marker needs a delimited concept name")
	}
	name := fields[0]

	position := 0
	if len(fields) > 1 {
		pos, err := parsePosition(fields[1])
		if err != nil {
			return p.errf(lineNo, ErrCodeSyntax, "%v", err)
		}
		position = pos
		if len(fields) > 2 {
			return p.errf(lineNo, ErrCodeSyntax, "unexpected token %q on value marker", fields[2])
		}
	}

	if name[0] == '<' {
		if position != 0 {
			return p.errf(lineNo, ErrCodeSyntax, "context concept %q cannot carry a positional binding", name)
		}
		node.Contexts = append(node.Contexts, name)
		return nil
	}
	node.Values = append(node.Values, Binding{Concept: name, Kind: concept.KindValue, Position: position})
	return nil
}

// parsePosition reads a `<:{n}>` positional annotation.
func parsePosition(tok string) (int, error) {
	if !strings.HasPrefix(tok, "<:{") || !strings.HasSuffix(tok, "}>") {
		return 0, fmt.Errorf("malformed positional binding %q", tok)
	}
	n, err := strconv.Atoi(tok[3 : len(tok)-2])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("positional binding %q must be a positive integer", tok)
	}
	return n, nil
}

func applyFlag(f *Flags, name string) error {
	switch name {
	case "start_without_value":
		f.StartWithoutValue = true
	case "start_without_value_once":
		f.StartWithoutValueOnce = true
	case "start_without_function":
		f.StartWithoutFunction = true
	case "start_without_function_once":
		f.StartWithoutFuncOnce = true
	case "start_with_support_only":
		f.StartWithSupportOnly = true
	case "start_with_support_only_once":
		f.StartWithSupportOnce = true
	default:
		return fmt.Errorf("unknown flag %q", name)
	}
	return nil
}

func isDelimitedName(s string) bool {
	if len(s) < 3 {
		return false
	}
	switch {
	case s[0] == '{' && s[len(s)-1] == '}',
		s[0] == '[' && s[len(s)-1] == ']',
		s[0] == '<' && s[len(s)-1] == '>':
		return !strings.ContainsAny(s[1:len(s)-1], "{}[]<>")
	}
	return false
}

// bareName strips the concept delimiters: "{sum}" -> "sum".
func bareName(s string) string {
	if isDelimitedName(s) {
		return s[1 : len(s)-1]
	}
	return s
}

// parseLiteral reads a ground literal: a quoted string, an integer, or a
// bracketed list of scalars laid out along an axis named after the concept.
func parseLiteral(lit, axis string) (*ref.Reference, error) {
	if lit == "" {
		return nil, fmt.Errorf("empty literal")
	}
	if lit[0] == '[' {
		if lit[len(lit)-1] != ']' {
			return nil, fmt.Errorf("unterminated list literal %q", lit)
		}
		inner := strings.TrimSpace(lit[1 : len(lit)-1])
		if inner == "" {
			return ref.NewBuilder([]string{axis}, 0).Build()
		}
		parts := strings.Split(inner, ",")
		values := make([]ref.Value, len(parts))
		for i, part := range parts {
			v, err := parseScalarLiteral(strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return ref.FromValues(axis, values...), nil
	}
	v, err := parseScalarLiteral(lit)
	if err != nil {
		return nil, err
	}
	return ref.NewScalar(v), nil
}

func parseScalarLiteral(lit string) (ref.Value, error) {
	switch {
	case strings.HasPrefix(lit, `"`):
		s, err := strconv.Unquote(lit)
		if err != nil {
			return nil, fmt.Errorf("malformed string literal %s: %w", lit, err)
		}
		return ref.String(s), nil
	case lit == "true" || lit == "false":
		return ref.Bool(lit == "true"), nil
	default:
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed literal %q", lit)
		}
		return ref.Int(n), nil
	}
}
