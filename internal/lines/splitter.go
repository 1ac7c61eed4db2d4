package lines

const (
	lineFeedByteConstant       = '\n'
	carriageReturnByteConstant = '\r'
	twoByteLeadConstant        = 0xC2
	nextLineTrailConstant      = 0x85
	threeByteLeadConstant      = 0xE2
	separatorMiddleConstant    = 0x80
	lineSeparatorTailConstant  = 0xA8
	paragraphTailConstant      = 0xA9
)

// Separators lists the recognized line terminators.
var Separators = []string{"\r\n", "\n", "\r", "\u0085", "\u2028", "\u2029"}

// Splitter reconstructs complete lines from arbitrarily chunked bytes.
//
// Bytes are only converted to text once a terminator has been seen, so multi-byte
// characters split across chunks never corrupt a line. A trailing carriage return is
// held back until the following byte decides between CR and CRLF.
// A Splitter is not safe for concurrent use.
type Splitter struct {
	pending    []byte
	scanOffset int
}

// NewSplitter creates an empty splitter.
func NewSplitter() *Splitter {
	return &Splitter{}
}

// Feed appends chunk and returns every line completed by it, terminators removed.
func (splitter *Splitter) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	splitter.pending = append(splitter.pending, chunk...)

	var completedLines []string
	for {
		lineEnd, separatorLength, found := splitter.nextSeparator()
		if !found {
			break
		}
		completedLines = append(completedLines, string(splitter.pending[:lineEnd]))
		splitter.pending = splitter.pending[lineEnd+separatorLength:]
		splitter.scanOffset = 0
	}

	if len(splitter.pending) == 0 {
		splitter.pending = nil
	}
	return completedLines
}

// Flush returns the unterminated remainder, if any, and resets the splitter.
// A held back carriage return terminates the remainder.
func (splitter *Splitter) Flush() (string, bool) {
	if len(splitter.pending) == 0 {
		return "", false
	}
	remainder := splitter.pending
	if remainder[len(remainder)-1] == carriageReturnByteConstant {
		remainder = remainder[:len(remainder)-1]
	}
	line := string(remainder)
	splitter.pending = nil
	splitter.scanOffset = 0
	return line, true
}

// Pending reports the number of buffered bytes not yet part of a completed line.
func (splitter *Splitter) Pending() int {
	return len(splitter.pending)
}

// nextSeparator locates the first complete terminator. It returns found=false when no
// terminator exists or when the buffer ends in a prefix that could still become one.
func (splitter *Splitter) nextSeparator() (int, int, bool) {
	buffer := splitter.pending
	for index := splitter.scanOffset; index < len(buffer); index++ {
		remaining := len(buffer) - index
		switch buffer[index] {
		case lineFeedByteConstant:
			return index, 1, true
		case carriageReturnByteConstant:
			if remaining == 1 {
				splitter.scanOffset = index
				return 0, 0, false
			}
			if buffer[index+1] == lineFeedByteConstant {
				return index, 2, true
			}
			return index, 1, true
		case twoByteLeadConstant:
			if remaining == 1 {
				splitter.scanOffset = index
				return 0, 0, false
			}
			if buffer[index+1] == nextLineTrailConstant {
				return index, 2, true
			}
		case threeByteLeadConstant:
			if remaining == 1 || (remaining == 2 && buffer[index+1] == separatorMiddleConstant) {
				splitter.scanOffset = index
				return 0, 0, false
			}
			if remaining >= 3 && buffer[index+1] == separatorMiddleConstant &&
				(buffer[index+2] == lineSeparatorTailConstant || buffer[index+2] == paragraphTailConstant) {
				return index, 3, true
			}
		}
	}
	splitter.scanOffset = len(buffer)
	return 0, 0, false
}

// Split breaks text into lines using the same rules as Splitter, including an unterminated tail.
func Split(text string) []string {
	splitter := NewSplitter()
	completedLines := splitter.Feed([]byte(text))
	if remainder, hasRemainder := splitter.Flush(); hasRemainder {
		completedLines = append(completedLines, remainder)
	}
	return completedLines
}
