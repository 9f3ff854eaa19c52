package relayapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeContentFrame(t *testing.T) {
	frame, err := EncodeContentFrame("Hi")
	require.NoError(t, err)
	require.Equal(t, "data: {\"content\":\"Hi\"}\n\n", string(frame))
}

func TestEncodeContentFrame_NoHTMLEscape(t *testing.T) {
	frame, err := EncodeContentFrame("a<b> & \"c\"\n")
	require.NoError(t, err)
	require.Equal(t, "data: {\"content\":\"a<b> & \\\"c\\\"\\n\"}\n\n", string(frame))
}

func TestUpstreamChunk_DeltaContent(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "content", in: `{"choices":[{"delta":{"content":"Hi"}}]}`, want: `"Hi"`},
		{name: "role-only", in: `{"choices":[{"delta":{"role":"assistant"}}]}`, want: ""},
		{name: "empty-choices", in: `{"choices":[]}`, want: ""},
		{name: "no-choices", in: `{"id":"x"}`, want: ""},
		{name: "null-content", in: `{"choices":[{"delta":{"content":null}}]}`, want: "null"},
		{name: "number-content", in: `{"choices":[{"delta":{"content":1}}]}`, want: "1"},
		{name: "choices-not-array", in: `{"choices":{"delta":{"content":"x"}}}`, want: ""},
		{name: "delta-not-object", in: `{"choices":[{"delta":"x"}]}`, want: ""},
		{
			name: "typed-siblings",
			in:   `{"id":123,"created":"1700000000","choices":[{"index":"0","finish_reason":1,"delta":{"role":7,"content":"ok"}}]}`,
			want: `"ok"`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var chunk UpstreamChunk
			require.NoError(t, json.Unmarshal([]byte(tc.in), &chunk))
			require.Equal(t, tc.want, string(chunk.DeltaContent()))
		})
	}
}

func TestEncodeContentFrame_LineSeparators(t *testing.T) {
	frame, err := EncodeContentFrame("a\u2028b\u2029c")
	require.NoError(t, err)
	require.Equal(t, "data: {\"content\":\"a\u2028b\u2029c\"}\n\n", string(frame))

	// 字面文本 `\u2028` 仍然以转义后的反斜杠输出
	frame, err = EncodeContentFrame(`x\u2028y`)
	require.NoError(t, err)
	require.Equal(t, `data: {"content":"x\\u2028y"}`+"\n\n", string(frame))
}

func TestEncodeRawContentFrame(t *testing.T) {
	cases := map[string]string{
		"1":            `data: {"content":1}`,
		"true":         `data: {"content":true}`,
		`{"a":"<b>"}`:  `data: {"content":{"a":"<b>"}}`,
		`[1,"x"]`:      `data: {"content":[1,"x"]}`,
		`"plain text"`: `data: {"content":"plain text"}`,
	}
	for in, want := range cases {
		frame, err := EncodeRawContentFrame(json.RawMessage(in))
		require.NoError(t, err)
		require.Equal(t, want+"\n\n", string(frame), in)
	}
}

func TestMarshal(t *testing.T) {
	data, err := Marshal(ErrorResponse{Error: "Upstream API error: 500 - <html>&amp;\u2028"})
	require.NoError(t, err)
	require.Equal(t, "{\"error\":\"Upstream API error: 500 - <html>&amp;\u2028\"}", string(data))

	var back ErrorResponse
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, "Upstream API error: 500 - <html>&amp;\u2028", back.Error)
}

func TestUpstreamPayload_FieldOrder(t *testing.T) {
	payload := UpstreamPayload{
		Messages:    []json.RawMessage{json.RawMessage(`{"role":"user","content":"hi"}`)},
		Stream:      true,
		Model:       "m",
		Temperature: 0.5,
		TopP:        1,
		Key:         "k",
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.Equal(t,
		`{"messages":[{"role":"user","content":"hi"}],"stream":true,"model":"m","temperature":0.5,"presence_penalty":0,"top_p":1,"key":"k"}`,
		string(data))
}
