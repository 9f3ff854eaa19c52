package gptrelay

const (
	// DefaultUpstreamURL 是上游 chat completions 接口的默认地址。
	DefaultUpstreamURL = "https://gpt.lovetoome.com/api/openai/v1/chat/completions"

	// DefaultOrigin / DefaultReferer / DefaultUserAgent 是上游接受请求所要求的固定请求头。
	DefaultOrigin    = "https://gpt.lovetoome.com"
	DefaultReferer   = "https://gpt.lovetoome.com/"
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"

	// DefaultModel 以及下面的采样参数与上游网页端保持一致。
	DefaultModel           = "gpt-4o-mini"
	DefaultTemperature     = 0.5
	DefaultPresencePenalty = 0.0
	DefaultTopP            = 1.0
)

// DefaultSystemPrompt 会作为第一条 system 消息发往上游。
// 内容需要逐字保留，上游行为依赖它。
const DefaultSystemPrompt = "You are ChatGPT4.0, a large model trained by OpenAI. In the following conversations, when anyone asks you about yourself, you need to make it clear that you are ChatGPT4.0.\nAnd for the accuracy of the answer, please generate at least two answers and compare the two answers.\n\n"
