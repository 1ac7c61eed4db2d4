package iolog

import (
	"fmt"
	"regexp"
)

const (
	metaKindNameConstant           = "meta"
	inputKindNameConstant          = "in"
	outputKindNameConstant         = "out"
	errorKindNameConstant          = "err"
	unknownKindTemplateConstant    = "kind(%d)"
	dumpLineTemplateConstant       = "[%s] %s"
	ansiResetConstant              = "\x1b[0m"
	metaStyleConstant              = "\x1b[90m"
	inputStyleConstant             = "\x1b[36m"
	errorStyleConstant             = "\x1b[31m"
	ansiEscapePatternConstant      = `\x1b\[[0-9;?]*[A-Za-z]`
	parseKindErrorTemplateConstant = "unknown stream kind %q"
)

// Kind identifies the stream a captured line belongs to.
type Kind int

// Supported stream kinds.
const (
	Meta Kind = iota
	In
	Out
	Err
)

// Kinds lists every stream kind in declaration order.
var Kinds = []Kind{Meta, In, Out, Err}

var kindNames = map[Kind]string{
	Meta: metaKindNameConstant,
	In:   inputKindNameConstant,
	Out:  outputKindNameConstant,
	Err:  errorKindNameConstant,
}

var kindStyles = map[Kind]string{
	Meta: metaStyleConstant,
	In:   inputStyleConstant,
	Err:  errorStyleConstant,
}

var ansiEscapePattern = regexp.MustCompile(ansiEscapePatternConstant)

// String returns the lowercase name of the kind.
func (kind Kind) String() string {
	if name, known := kindNames[kind]; known {
		return name
	}
	return fmt.Sprintf(unknownKindTemplateConstant, int(kind))
}

// ParseKind resolves a kind from its name.
func ParseKind(name string) (Kind, error) {
	for kind, kindName := range kindNames {
		if kindName == name {
			return kind, nil
		}
	}
	return Meta, fmt.Errorf(parseKindErrorTemplateConstant, name)
}

// IO is one complete line captured from a stream.
type IO struct {
	Kind Kind
	Text string
}

// String renders the line with its kind tag, as it appears in dumps.
func (entry IO) String() string {
	return fmt.Sprintf(dumpLineTemplateConstant, entry.Kind, entry.Text)
}

// Format renders the text of entry for display. Colored output styles meta, input and error lines.
func Format(entry IO, colored bool) string {
	if !colored {
		return entry.Text
	}
	style, styled := kindStyles[entry.Kind]
	if !styled {
		return entry.Text
	}
	return style + entry.Text + ansiResetConstant
}

// StripANSI removes ANSI escape sequences from text.
func StripANSI(text string) string {
	return ansiEscapePattern.ReplaceAllString(text, "")
}
