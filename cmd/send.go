package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"actorbridge/pkg/channel/websocket"
	"actorbridge/pkg/config"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	sendAddr    string
	sendActor   string
	sendCount   int
	sendTimeout time.Duration
)

var (
	replyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	metaStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("88")).
			Padding(0, 1)
)

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send messages to a running gateway over WebSocket",
	Long:  "Connects to the gateway WebSocket bridge and sends one message (optionally repeated with --count) or starts an interactive session when no text is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sendCount < 1 {
			return fmt.Errorf("--count must be at least 1, got %d", sendCount)
		}

		dialCtx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()

		client, err := websocket.Dial(dialCtx, sendAddr)
		if err != nil {
			return err
		}
		defer client.Close()

		text := resolveText(args)
		if text != "" {
			return sendBatch(client, cmd.OutOrStdout(), sendActor, text, sendCount, sendTimeout)
		}

		return runInteractive(client, cmd.InOrStdin(), cmd.OutOrStdout(), sendActor, sendTimeout)
	},
}

func init() {
	sendCmd.SilenceUsage = true
	rootCmd.AddCommand(sendCmd)

	defaultAddr := fmt.Sprintf("ws://127.0.0.1:%d%s", config.DefaultGatewayPort, config.DefaultWebSocketPath)
	sendCmd.Flags().StringVar(&sendAddr, "addr", defaultAddr, "gateway WebSocket URL")
	sendCmd.Flags().StringVar(&sendActor, "actor", "", "target actor (defaults to the gateway default actor)")
	sendCmd.Flags().IntVarP(&sendCount, "count", "n", 1, "number of times to send the message")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "time to wait for each reply")
}

func resolveText(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// sendBatch submits text count times and prints every reply. Replies can
// arrive out of order when the actor runs more than one worker.
func sendBatch(client *websocket.Client, out io.Writer, actorName, text string, count int, timeout time.Duration) error {
	for i := range count {
		req := websocket.Request{ID: strconv.Itoa(i + 1), Actor: actorName, Text: text}
		if err := client.Send(req); err != nil {
			return fmt.Errorf("send request %s: %w", req.ID, err)
		}
	}

	failed := 0
	for range count {
		reply, err := receiveReply(client, timeout)
		if err != nil {
			return err
		}
		if reply.Error != "" {
			failed++
		}
		fmt.Fprintln(out, renderReply(reply))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, count)
	}
	return nil
}

func runInteractive(client *websocket.Client, in io.Reader, out io.Writer, actorName string, timeout time.Duration) error {
	scanner := bufio.NewScanner(in)

	for id := 1; ; id++ {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if isExitCommand(text) {
			return nil
		}

		if err := client.Send(websocket.Request{ID: strconv.Itoa(id), Actor: actorName, Text: text}); err != nil {
			return fmt.Errorf("send request: %w", err)
		}

		reply, err := receiveReply(client, timeout)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderReply(reply))
	}
}

func receiveReply(client *websocket.Client, timeout time.Duration) (websocket.Reply, error) {
	if err := client.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return websocket.Reply{}, err
	}

	reply, err := client.Receive()
	if errors.Is(err, io.EOF) {
		return reply, errors.New("gateway closed the connection")
	}
	if err != nil {
		return reply, fmt.Errorf("receive reply: %w", err)
	}
	return reply, nil
}

func renderReply(reply websocket.Reply) string {
	meta := metaStyle.Render(fmt.Sprintf("[%s #%d]", reply.ID, reply.Seq))
	if reply.Error != "" {
		return meta + " " + errorStyle.Render(reply.Error)
	}
	return meta + " " + replyStyle.Render(reply.Text)
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
