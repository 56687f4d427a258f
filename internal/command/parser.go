package command

import (
	"errors"
	"fmt"
	"strings"
)

const (
	delimiter    = ' '
	pairFlag     = "--"
	pairSplitter = "="
)

var (
	ErrEmptyLine        = errors.New("empty command line")
	ErrCommandTooLong   = errors.New("command token too long")
	ErrArgumentTooLong  = errors.New("argument token too long")
	ErrTooManyArguments = errors.New("too many arguments")
)

// Limits bound the size of a command line and its parts.
type Limits struct {
	MaxLineLength int `mapstructure:"max_line_length"`
	MaxPartLength int `mapstructure:"max_part_length"`
	MaxArgs       int `mapstructure:"max_args"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxLineLength: 256,
		MaxPartLength: 64,
		MaxArgs:       10,
	}
}

// Arg is one --KEY=VALUE pair, both already case folded.
type Arg struct {
	Key   string
	Value string
}

// Args keeps arguments in the order they appeared on the line.
type Args []Arg

// Lookup returns the value of the first argument named key.
func (a Args) Lookup(key string) (string, bool) {
	if i := a.Index(key); i >= 0 {
		return a[i].Value, true
	}
	return "", false
}

// Index returns the position of key, or -1.
func (a Args) Index(key string) int {
	for i, arg := range a {
		if arg.Key == key {
			return i
		}
	}
	return -1
}

func (a Args) Keys() []string {
	keys := make([]string, len(a))
	for i, arg := range a {
		keys[i] = arg.Key
	}
	return keys
}

// Parsed is the result of tokenizing one line.
type Parsed struct {
	Kind Kind
	Name string
	Args Args
	// Skipped holds raw tokens that lacked the -- marker.
	Skipped []string
}

// Parser tokenizes lines against the command table.
type Parser struct {
	limits Limits
}

func NewParser(limits Limits) *Parser {
	return &Parser{limits: limits}
}

func (p *Parser) Limits() Limits {
	return p.limits
}

// Parse splits line into a command and its arguments. Repeated spaces are
// treated as one delimiter.
func (p *Parser) Parse(line string) (*Parsed, error) {
	parts := strings.FieldsFunc(line, func(r rune) bool { return r == delimiter })
	if len(parts) == 0 {
		return nil, ErrEmptyLine
	}

	name := parts[0]
	if len(name) >= p.limits.MaxPartLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrCommandTooLong, len(name))
	}
	raw := parts[1:]
	if len(raw) > p.limits.MaxArgs {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyArguments, len(raw), p.limits.MaxArgs)
	}

	name = ToUpper(name)
	parsed := &Parsed{
		Kind: Resolve(name),
		Name: name,
	}
	for _, token := range raw {
		if len(token) >= p.limits.MaxPartLength {
			return nil, fmt.Errorf("%w: %q", ErrArgumentTooLong, token)
		}
		body, ok := strings.CutPrefix(token, pairFlag)
		if !ok {
			parsed.Skipped = append(parsed.Skipped, token)
			continue
		}
		key, value, _ := strings.Cut(body, pairSplitter)
		parsed.Args = append(parsed.Args, Arg{Key: ToUpper(key), Value: ToUpper(value)})
	}
	return parsed, nil
}

// ToUpper folds ASCII a-z only; every other byte passes through.
func ToUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// CheckArgs reports whether args fit the schema of kind: no more arguments
// than declared keys, and every key declared. Missing keys are allowed.
func CheckArgs(kind Kind, args Args) bool {
	params := kind.Params()
	if len(args) > len(params) {
		return false
	}
	for _, arg := range args {
		found := false
		for _, param := range params {
			if arg.Key == param {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
