package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LubyRuffy/gptrelay/backend"
	"github.com/LubyRuffy/gptrelay/internal/config"
)

type chatOptions struct {
	configPath string
	authSource string
	input      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:          "gptrelay-chat",
		Short:        "Chat with the upstream from the terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			m, err := newChatModel(ctx, opts)
			if err != nil {
				return err
			}
			if strings.TrimSpace(opts.input) != "" {
				_, err := streamReply(ctx, m, []*schema.Message{schema.UserMessage(opts.input)}, cmd.OutOrStdout())
				fmt.Fprintln(cmd.OutOrStdout())
				return err
			}
			return runREPL(ctx, m, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", config.DefaultConfigPath, "path to YAML config file")
	cmd.Flags().StringVar(&opts.authSource, "auth-source", "", "upstream key source: env|file|config|auto (overrides auth.source)")
	cmd.Flags().StringVar(&opts.input, "input", "", "send a single message and exit")
	return cmd
}

func newChatModel(ctx context.Context, opts chatOptions) (*backend.ChatModel, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.authSource != "" {
		cfg.Auth.Source = opts.authSource
	}
	if err := config.ConfigureLogger(logrus.StandardLogger(), cfg.Logging); err != nil {
		return nil, err
	}

	key, err := config.ResolveKey(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client, err := backend.NewClient(backend.ClientConfig{
		URL:        cfg.Upstream.URL,
		HTTPClient: cfg.UpstreamHTTPClient(),
		Origin:     cfg.Upstream.Origin,
		Referer:    cfg.Upstream.Referer,
		UserAgent:  cfg.Upstream.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	return backend.NewChatModel(backend.ChatModelConfig{
		Client:  client,
		Payload: cfg.PayloadOptions(key),
	})
}

// runREPL 逐行读取输入，把完整对话历史随每条消息一起发送。输入 exit 结束。
func runREPL(ctx context.Context, m einoModel.BaseChatModel, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	var history []*schema.Message

	fmt.Fprintln(out, "Starting chat session (type 'exit' to quit)")
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "exit" || input == "quit" {
			break
		}
		if input == "" {
			continue
		}

		turn := append(history, schema.UserMessage(input))
		fmt.Fprint(out, "\nAssistant: ")
		reply, err := streamReply(ctx, m, turn, out)
		fmt.Fprintln(out)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		history = append(turn, schema.AssistantMessage(reply, nil))
	}
	return scanner.Err()
}

// streamReply 把增量内容边收边写到 out，返回完整回复。
func streamReply(ctx context.Context, m einoModel.BaseChatModel, messages []*schema.Message, out io.Writer) (string, error) {
	sr, err := m.Stream(ctx, messages)
	if err != nil {
		return "", err
	}
	defer sr.Close()

	var reply strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return reply.String(), nil
		}
		if err != nil {
			return reply.String(), err
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		reply.WriteString(msg.Content)
		fmt.Fprint(out, msg.Content)
	}
}
