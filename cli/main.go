// Package main provides an interactive terminal client for the chat relay.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

type options struct {
	url   string
	token string
	plain bool
	width int
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "chatrelay-cli",
		Short: "Chat with the relay from a terminal",
		Long: `chatrelay-cli opens a websocket to the relay, sends each line you type
as a user message and renders the replies as markdown.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "ws://localhost:8080/ws", "WebSocket server address")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("CHATRELAY_TOKEN"), "Access token (defaults to $CHATRELAY_TOKEN)")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Print replies without markdown rendering")
	cmd.Flags().IntVar(&opts.width, "width", 80, "Word wrap width for rendered replies")
	return cmd
}

func run(opts *options) error {
	renderer, err := NewRenderer(opts.plain, opts.width)
	if err != nil {
		return err
	}

	fmt.Println(infoStyle.Render("Connecting to " + opts.url + "..."))
	client, err := NewClient(opts.url, opts.token)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	fmt.Println(infoStyle.Render("Connected. Type a message and press Enter. /quit to exit."))

	go func() {
		err := client.ReadFrames(func(frame Frame) {
			if out := renderer.Render(frame); out != "" {
				fmt.Printf("\n%s\n%s", out, prompt())
			}
		})
		if err != nil {
			fmt.Println(errorStyle.Render("\nconnection closed: " + err.Error()))
		}
		os.Exit(0)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Print(prompt())
	for {
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input := strings.TrimSpace(line)
			if input == "" {
				fmt.Print(prompt())
				continue
			}
			if input == "/quit" {
				fmt.Println("Bye!")
				return nil
			}
			if err := client.Send(input); err != nil {
				fmt.Println(errorStyle.Render("send error: " + err.Error()))
			}
		}
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
