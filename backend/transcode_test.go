package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// chunkReader 每次 Read 只返回一个预设分片，用来模拟网络分包。
type chunkReader struct {
	chunks [][]byte
	reads  int
	err    error
}

func newChunkReader(chunks ...string) *chunkReader {
	r := &chunkReader{}
	for _, c := range chunks {
		r.chunks = append(r.chunks, []byte(c))
	}
	return r
}

func (r *chunkReader) Read(p []byte) (int, error) {
	r.reads++
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("client gone") }

func quietLogger() *logrus.Logger {
	logger, _ := logtest.NewNullLogger()
	return logger
}

func TestTranscode_RoundTrip(t *testing.T) {
	src := newChunkReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n",
		"data: [DONE]\n\n",
	)
	var out flushRecorder
	stats, err := Transcode(context.Background(), src, &out, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.Equal(t, "data: {\"content\":\"Hi\"}\n\ndata: [DONE]\n\n", out.String())
	require.Equal(t, TranscodeStats{Frames: 1, Done: true}, stats)
	require.Equal(t, 2, out.flushes)
}

func TestTranscode_MalformedLineDropped(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	src := newChunkReader(
		"data: {bad json\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n",
		"data: [DONE]\n\n",
	)
	var out bytes.Buffer
	stats, err := Transcode(context.Background(), src, &out, WithLogger(logger))
	require.NoError(t, err)
	require.Equal(t, "data: {\"content\":\"ok\"}\n\ndata: [DONE]\n\n", out.String())
	require.Equal(t, 1, stats.Malformed)

	require.Len(t, hook.AllEntries(), 1)
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	require.Equal(t, "drop malformed upstream event", hook.LastEntry().Message)
}

func TestTranscode_SplitLineAcrossChunks(t *testing.T) {
	src := newChunkReader(
		"data: {\"choices\":[{\"delta\"",
		":{\"content\":\"Hi\"}}]}\n\n",
	)
	var out bytes.Buffer
	stats, err := Transcode(context.Background(), src, &out, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.Equal(t, "data: {\"content\":\"Hi\"}\n\n", out.String())
	require.Equal(t, 0, stats.Malformed)
}

func TestTranscode_EmptyContentProducesNoFrame(t *testing.T) {
	src := newChunkReader(
		"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{}}]}\n\n",
		"data: [DONE]\n\n",
	)
	var out bytes.Buffer
	stats, err := Transcode(context.Background(), src, &out, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.Equal(t, "data: [DONE]\n\n", out.String())
	require.Equal(t, 2, stats.Empty)
	require.Zero(t, stats.Frames)
}

func TestTranscode_EarlyEOFHasNoDone(t *testing.T) {
	src := newChunkReader("data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	var out bytes.Buffer
	stats, err := Transcode(context.Background(), src, &out, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.Equal(t, "data: {\"content\":\"partial\"}\n\n", out.String())
	require.False(t, stats.Done)
	require.NotContains(t, out.String(), "[DONE]")
}

func TestTranscode_StopsReadingAfterDone(t *testing.T) {
	src := newChunkReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\ndata: [DONE]\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"c\"}}]}\n\n",
	)
	var out bytes.Buffer
	_, err := Transcode(context.Background(), src, &out, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.Equal(t, "data: {\"content\":\"a\"}\n\ndata: [DONE]\n\n", out.String())
	require.Equal(t, 1, src.reads)
}

func TestTranscode_SmallReadSize(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"<b>你好</b>\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n" +
		"data: [DONE]\n\n"
	var out bytes.Buffer
	stats, err := Transcode(context.Background(), strings.NewReader(input), &out, WithReadSize(3), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.Equal(t, "data: {\"content\":\"<b>你好</b>\"}\n\ndata: {\"content\":\" world\"}\n\ndata: [DONE]\n\n", out.String())
	require.Equal(t, 2, stats.Frames)
}

func TestTranscode_ReadErrorMidStream(t *testing.T) {
	src := newChunkReader("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
	src.err = io.ErrUnexpectedEOF
	var out bytes.Buffer
	stats, err := Transcode(context.Background(), src, &out, WithLogger(quietLogger()))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, "data: {\"content\":\"a\"}\n\n", out.String())
	require.Equal(t, 1, stats.Frames)
}

func TestTranscode_WriteError(t *testing.T) {
	src := newChunkReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n",
		"data: [DONE]\n\n",
	)
	_, err := Transcode(context.Background(), src, failingWriter{}, WithLogger(quietLogger()))
	require.Error(t, err)
	require.Contains(t, err.Error(), "client gone")
	require.Equal(t, 1, src.reads)
}

func TestTranscode_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := newChunkReader("data: [DONE]\n\n")
	var out bytes.Buffer
	_, err := Transcode(ctx, src, &out, WithLogger(quietLogger()))
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, src.reads)
	require.Empty(t, out.String())
}

func TestTranscode_NonStringContent(t *testing.T) {
	src := newChunkReader(
		"data: {\"choices\":[{\"delta\":{\"content\":1}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":0}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":{\"a\": \"<b>\"}}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":null}}]}\n\n",
		"data: [DONE]\n\n",
	)
	var out bytes.Buffer
	stats, err := Transcode(context.Background(), src, &out, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.Equal(t, "data: {\"content\":1}\n\ndata: {\"content\":{\"a\":\"<b>\"}}\n\ndata: [DONE]\n\n", out.String())
	require.Equal(t, TranscodeStats{Frames: 2, Empty: 2, Done: true}, stats)
}

func TestTranscode_TypedMetadataFields(t *testing.T) {
	src := newChunkReader(
		"data: {\"id\":123,\"created\":\"1700000000\",\"choices\":[{\"index\":\"0\",\"finish_reason\":1,\"delta\":{\"content\":\"Hi\"}}]}\n\n",
		"data: [DONE]\n\n",
	)
	var out bytes.Buffer
	stats, err := Transcode(context.Background(), src, &out, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.Equal(t, "data: {\"content\":\"Hi\"}\n\ndata: [DONE]\n\n", out.String())
	require.Zero(t, stats.Malformed)
}

func TestTranscode_OversizedLineSkipped(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	src := newChunkReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\""+strings.Repeat("x", 64),
		strings.Repeat("y", 64),
		"\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n",
		"data: [DONE]\n\n",
	)
	var out bytes.Buffer
	stats, err := Transcode(context.Background(), src, &out, WithLogger(logger), WithMaxLineBytes(96))
	require.NoError(t, err)
	require.Equal(t, "data: {\"content\":\"ok\"}\n\ndata: [DONE]\n\n", out.String())
	require.Equal(t, 1, stats.Malformed)

	require.Len(t, hook.AllEntries(), 1)
	require.ErrorIs(t, hook.LastEntry().Data[logrus.ErrorKey].(error), ErrLineTooLong)
}
