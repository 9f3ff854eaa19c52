package backend

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/LubyRuffy/gptrelay/relayapi"
)

// EventKind 是单个上游 data 行的解析结果。
type EventKind int

const (
	// EventEmpty 解析成功但没有内容（心跳、只有 role 的 delta 等）。
	EventEmpty EventKind = iota
	// EventContent 携带非空的 choices[0].delta.content。
	EventContent
	// EventDone 收到 [DONE]。
	EventDone
	// EventMalformed JSON 无法解析，Err 为 *StreamParseError。
	EventMalformed
)

func (k EventKind) String() string {
	switch k {
	case EventEmpty:
		return "empty"
	case EventContent:
		return "content"
	case EventDone:
		return "done"
	case EventMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind    EventKind
	Content string
	// Value 非 nil 时表示 content 不是字符串（数字、true、对象、数组），保存其紧凑 JSON；
	// 此时 Content 是同一段 JSON 文本。
	Value json.RawMessage
	Err   error
}

// DefaultMaxLineBytes 是单个未结束行允许缓存的最大字节数。
const DefaultMaxLineBytes = 1 << 20

var dataPrefix = []byte(relayapi.DataPrefix)

// Decoder 是上游 SSE 的增量解析状态机。
//
// 上游的一次网络读取可能在行中间、甚至 JSON 中间结束，因此 Decoder 会在多次 Feed 之间
// 累积字节，只消费以 \n 结尾的完整行，剩余的半行留到下一次 Feed。
// 收到 [DONE] 之后 Decoder 进入结束状态，之后的所有输入（包括同一次 Feed 里的剩余数据）都会被丢弃。
//
// 半行超过 MaxLineBytes 时产生一个 EventMalformed（Err 包装 ErrLineTooLong），
// 丢弃已缓存的数据并跳过该行剩余部分，直到下一个 \n。
//
// Decoder 不是并发安全的，每个流使用一个实例。
type Decoder struct {
	// MaxLineBytes 为 0 时使用 DefaultMaxLineBytes。
	MaxLineBytes int

	buf        []byte
	done       bool
	discarding bool
}

// Feed 追加一段原始字节并返回其中所有完整 data 行对应的事件。
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.done {
		return nil
	}
	if d.discarding {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			return nil
		}
		chunk = chunk[idx+1:]
		d.discarding = false
	}
	d.buf = append(d.buf, chunk...)

	var events []Event
	start := 0
	for {
		idx := bytes.IndexByte(d.buf[start:], '\n')
		if idx < 0 {
			break
		}
		line := d.buf[start : start+idx]
		start += idx + 1

		ev, ok := parseLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.Kind == EventDone {
			d.finish()
			return events
		}
	}

	// 保留末尾的半行
	d.buf = d.buf[:copy(d.buf, d.buf[start:])]

	if len(d.buf) > d.maxLineBytes() {
		events = append(events, Event{
			Kind: EventMalformed,
			Err:  &StreamParseError{Payload: string(d.buf[:min(len(d.buf), 64)]), Err: ErrLineTooLong},
		})
		d.buf = nil
		d.discarding = true
	}
	return events
}

// Close 在上游 EOF 时调用，把残留的半行当作最后一行处理。
func (d *Decoder) Close() []Event {
	if d.done {
		return nil
	}
	rest := d.buf
	d.finish()
	if len(rest) == 0 {
		return nil
	}
	ev, ok := parseLine(rest)
	if !ok {
		return nil
	}
	return []Event{ev}
}

// Done 报告是否已经收到 [DONE]（或已 Close）。
func (d *Decoder) Done() bool { return d.done }

// Pending 返回当前缓存的半行字节数。
func (d *Decoder) Pending() int { return len(d.buf) }

func (d *Decoder) maxLineBytes() int {
	if d.MaxLineBytes > 0 {
		return d.MaxLineBytes
	}
	return DefaultMaxLineBytes
}

func (d *Decoder) finish() {
	d.done = true
	d.discarding = false
	d.buf = nil
}

// parseLine 解析一行 SSE。非 `data: ` 开头的行（注释、event:、空行）返回 ok=false。
// 只有不是合法 JSON 的 payload 才算 EventMalformed；合法 JSON 只读取 choices[0].delta.content。
func parseLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}
	payload := line[len(dataPrefix):]
	if string(payload) == relayapi.DoneSentinel {
		return Event{Kind: EventDone}, true
	}

	var chunk relayapi.UpstreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			// 合法 JSON 但顶层不是对象
			return Event{Kind: EventEmpty}, true
		}
		return Event{Kind: EventMalformed, Err: &StreamParseError{Payload: string(payload), Err: err}}, true
	}
	return contentEvent(chunk.DeltaContent()), true
}

// contentEvent 按 JavaScript 的真值规则判断 content：
// null、false、0、"" 视为没有内容，其余值都会输出。
func contentEvent(raw json.RawMessage) Event {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Event{Kind: EventEmpty}
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return Event{Kind: EventEmpty}
		}
		return Event{Kind: EventContent, Content: s}
	case 'n', 'f':
		return Event{Kind: EventEmpty}
	case '{', '[', 't':
	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil && f == 0 {
			return Event{Kind: EventEmpty}
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Event{Kind: EventEmpty}
	}
	value := json.RawMessage(buf.Bytes())
	return Event{Kind: EventContent, Content: string(value), Value: value}
}
