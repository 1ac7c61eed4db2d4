package commandline

import "strings"

const (
	hereDocumentPrefixConstant          = "<<"
	hereDocumentTabStrippingConstant    = "-"
	hereDocumentLineSeparatorConstant   = "\n"
	hereDocumentQuoteCharactersConstant = "'\""
)

// repairHereDocuments undoes the quoting of arguments that are complete here-documents.
// A quoted here-document would be passed to the shell as a literal string instead of being interpreted.
func repairHereDocuments(rawArguments []string, quotedTokens []string) []string {
	repairedTokens := make([]string, len(quotedTokens))
	copy(repairedTokens, quotedTokens)
	for index, rawArgument := range rawArguments {
		if IsHereDocument(rawArgument) {
			repairedTokens[index] = rawArgument
		}
	}
	return repairedTokens
}

// IsHereDocument reports whether argument has the form "<<NAME\n...\nNAME".
// Tab-stripping ("<<-NAME") and quoted delimiters ("<<'NAME'") are recognized.
func IsHereDocument(argument string) bool {
	if !strings.HasPrefix(argument, hereDocumentPrefixConstant) {
		return false
	}

	headerEnd := strings.Index(argument, hereDocumentLineSeparatorConstant)
	if headerEnd < 0 {
		return false
	}

	header := argument[len(hereDocumentPrefixConstant):headerEnd]
	stripTabs := strings.HasPrefix(header, hereDocumentTabStrippingConstant)
	if stripTabs {
		header = header[len(hereDocumentTabStrippingConstant):]
	}

	delimiter := unquoteDelimiter(strings.TrimSpace(header))
	if !isDelimiterName(delimiter) {
		return false
	}

	remainder := argument[headerEnd+len(hereDocumentLineSeparatorConstant):]
	lastSeparator := strings.LastIndex(remainder, hereDocumentLineSeparatorConstant)
	closingLine := remainder
	if lastSeparator >= 0 {
		closingLine = remainder[lastSeparator+len(hereDocumentLineSeparatorConstant):]
	}
	if stripTabs {
		closingLine = strings.TrimLeft(closingLine, "\t")
	}

	return closingLine == delimiter
}

func unquoteDelimiter(delimiter string) string {
	if len(delimiter) < 2 {
		return delimiter
	}
	openingQuote := delimiter[0]
	if strings.IndexByte(hereDocumentQuoteCharactersConstant, openingQuote) < 0 {
		return delimiter
	}
	if delimiter[len(delimiter)-1] != openingQuote {
		return ""
	}
	return delimiter[1 : len(delimiter)-1]
}

func isDelimiterName(delimiter string) bool {
	if len(delimiter) == 0 {
		return false
	}
	for characterIndex, character := range delimiter {
		switch {
		case character == '_':
		case character >= 'A' && character <= 'Z':
		case character >= 'a' && character <= 'z':
		case characterIndex > 0 && (character == '-' || (character >= '0' && character <= '9')):
		default:
			return false
		}
	}
	return true
}
