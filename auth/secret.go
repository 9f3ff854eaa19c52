package auth

const redacted = "[REDACTED]"

// Secret 保存上游共享密钥。
// 进程启动时读取一次，之后只通过 Reveal 取值；格式化输出与日志中一律显示为 [REDACTED]。
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string { return s.String() }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Reveal 返回明文，只应在构建上游请求体时调用。
func (s Secret) Reveal() string { return string(s) }

func (s Secret) IsZero() bool { return s == "" }
