package backend

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/LubyRuffy/gptrelay/relayapi"
	"github.com/sirupsen/logrus"
)

const defaultReadSize = 4 << 10

// TranscodeStats 汇总一次转码的结果。
type TranscodeStats struct {
	Frames    int
	Empty     int
	Malformed int
	// Done 为 true 表示收到了上游的 [DONE] 并已向客户端写出结束帧。
	Done bool
}

type transcodeOptions struct {
	logger       logrus.FieldLogger
	readSize     int
	maxLineBytes int
}

type TranscodeOption func(*transcodeOptions)

// WithLogger 指定记录被丢弃事件的日志器。
func WithLogger(logger logrus.FieldLogger) TranscodeOption {
	return func(o *transcodeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithReadSize 指定每次从上游读取的最大字节数。
func WithReadSize(n int) TranscodeOption {
	return func(o *transcodeOptions) {
		if n > 0 {
			o.readSize = n
		}
	}
}

// WithMaxLineBytes 指定单个未结束行允许缓存的最大字节数，默认 DefaultMaxLineBytes。
func WithMaxLineBytes(n int) TranscodeOption {
	return func(o *transcodeOptions) {
		if n > 0 {
			o.maxLineBytes = n
		}
	}
}

type flusher interface {
	Flush()
}

// Transcode 从 src 读取上游 SSE，向 dst 写出客户端 SSE：
//   - 每个有内容的 delta.content 写出 `data: {"content":...}\n\n`，非字符串值按原 JSON 输出
//   - [DONE] 写出 `data: [DONE]\n\n` 并立即结束，不再读取上游
//   - 无法解析或超过行长度限制的事件记录日志后丢弃
//   - 上游在 [DONE] 之前 EOF 时正常结束，不补写 [DONE]
//
// 每次写出后若 dst 实现了 Flush() 则立即 flush。只有在当前读取的数据全部写出后才会发起下一次读取，
// 因此客户端消费慢时会反压到上游连接。
func Transcode(ctx context.Context, src io.Reader, dst io.Writer, opts ...TranscodeOption) (TranscodeStats, error) {
	o := transcodeOptions{logger: logrus.StandardLogger(), readSize: defaultReadSize}
	for _, opt := range opts {
		opt(&o)
	}

	var stats TranscodeStats
	f, _ := dst.(flusher)
	write := func(frame []byte) error {
		if _, err := dst.Write(frame); err != nil {
			return fmt.Errorf("failed to write client frame: %w", err)
		}
		if f != nil {
			f.Flush()
		}
		return nil
	}

	err := decodeStream(ctx, src, &Decoder{MaxLineBytes: o.maxLineBytes}, o.readSize, func(ev Event) error {
		switch ev.Kind {
		case EventContent:
			frame, err := encodeContent(ev)
			if err != nil {
				return fmt.Errorf("failed to encode client frame: %w", err)
			}
			if err := write(frame); err != nil {
				return err
			}
			stats.Frames++
		case EventDone:
			if err := write([]byte(relayapi.DoneFrame)); err != nil {
				return err
			}
			stats.Done = true
		case EventMalformed:
			stats.Malformed++
			o.logger.WithError(ev.Err).Warn("drop malformed upstream event")
		case EventEmpty:
			stats.Empty++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	if !stats.Done {
		o.logger.WithField("frames", stats.Frames).Debug("upstream stream ended without [DONE]")
	}
	return stats, nil
}

// decodeStream 循环读取 src 并把解析出的事件按顺序交给 handle。
// 收到 [DONE] 或 EOF 时返回 nil；handle 返回错误时立即停止。
func decodeStream(ctx context.Context, src io.Reader, dec *Decoder, readSize int, handle func(Event) error) error {
	if readSize <= 0 {
		readSize = defaultReadSize
	}
	buf := make([]byte, readSize)

	dispatch := func(events []Event) error {
		for _, ev := range events {
			if err := handle(ev); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if err := dispatch(dec.Feed(buf[:n])); err != nil {
				return err
			}
			if dec.Done() {
				return nil
			}
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			return dispatch(dec.Close())
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("failed to read upstream stream: %w", readErr)
	}
}

func encodeContent(ev Event) ([]byte, error) {
	if ev.Value != nil {
		return relayapi.EncodeRawContentFrame(ev.Value)
	}
	return relayapi.EncodeContentFrame(ev.Content)
}
