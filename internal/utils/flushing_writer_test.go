package utils_test

import (
	"bufio"
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/procexec/internal/utils"
)

const (
	testFlushedLineConstant       = "line written through buffer\n"
	testConcurrentWritersConstant = 8
)

type failingFlushWriter struct {
	bytes.Buffer
}

func (writer *failingFlushWriter) Flush() error {
	return errors.New("flush failed")
}

func TestFlushingWriterFlushesBufferedDestination(testInstance *testing.T) {
	var destination bytes.Buffer
	bufferedWriter := bufio.NewWriter(&destination)

	flushingWriter := utils.NewFlushingWriter(bufferedWriter)
	bytesWritten, writeError := flushingWriter.Write([]byte(testFlushedLineConstant))
	require.NoError(testInstance, writeError)
	require.Equal(testInstance, len(testFlushedLineConstant), bytesWritten)
	require.Equal(testInstance, testFlushedLineConstant, destination.String())
}

func TestFlushingWriterReportsFlushFailure(testInstance *testing.T) {
	flushingWriter := utils.NewFlushingWriter(&failingFlushWriter{})
	_, writeError := flushingWriter.Write([]byte(testFlushedLineConstant))
	require.EqualError(testInstance, writeError, "flush failed")
}

func TestFlushingWriterWrapping(testInstance *testing.T) {
	require.Nil(testInstance, utils.NewFlushingWriter(nil))

	wrapped := utils.NewFlushingWriter(&bytes.Buffer{})
	require.Same(testInstance, wrapped, utils.NewFlushingWriter(wrapped))
}

func TestFlushingWriterSerializesWrites(testInstance *testing.T) {
	var destination bytes.Buffer
	flushingWriter := utils.NewFlushingWriter(&destination)

	var waitGroup sync.WaitGroup
	for writerIndex := 0; writerIndex < testConcurrentWritersConstant; writerIndex++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, _ = flushingWriter.Write([]byte(testFlushedLineConstant))
		}()
	}
	waitGroup.Wait()

	require.Equal(testInstance, bytes.Repeat([]byte(testFlushedLineConstant), testConcurrentWritersConstant), destination.Bytes())
}
