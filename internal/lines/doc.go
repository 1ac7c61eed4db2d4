// Package lines detects line boundaries in chunked byte streams.
//
// Splitter recognizes LF, CRLF, CR, NEL, LINE SEPARATOR and PARAGRAPH SEPARATOR and
// produces identical lines no matter how the input is chunked. Reader drains an
// io.Reader through a Splitter, treating momentarily empty streams as retryable.
package lines
