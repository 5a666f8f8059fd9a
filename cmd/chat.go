package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jesspig/micro-agent/internal/bus"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the assistant from the terminal",
	Long: `With a message argument, sends it and prints the reply. Without
arguments, opens an interactive session; exit with Ctrl-D or /quit.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	ctx := cmd.Context()
	rt.mcp.Start(ctx)
	rt.startMigration(ctx)

	cwd, _ := os.Getwd()
	ask := func(content string) {
		reply := rt.executor.Run(ctx, bus.InboundMessage{
			Channel:    "console",
			SenderID:   "local",
			ChatID:     "local",
			Content:    content,
			Timestamp:  time.Now(),
			CurrentDir: cwd,
		})
		fmt.Println(reply)
	}

	if len(args) > 0 {
		ask(strings.Join(args, " "))
		return nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit", line == "/exit":
			return nil
		default:
			ask(line)
		}
		fmt.Print("> ")
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}
