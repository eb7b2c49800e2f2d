package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cmgdl/internal/conversation"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(getCmd)
}

var getCmd = &cobra.Command{
	Use:   "get [post url] [choice]",
	Short: "Runs the download conversation on the terminal.",
	Args:  cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := setup(ctx)
		defer a.close()

		engine := conversation.NewEngine(a.service, a.tel)
		converse(ctx, engine, strings.Join(args, " "), os.Stdin, os.Stdout)
	},
}

// converse runs one conversation, reading user messages line by line from `in`.
func converse(ctx context.Context, engine conversation.Engine, args string, in io.Reader, out io.Writer) {
	c, reply := engine.Start(ctx, args)
	scanner := bufio.NewScanner(in)
	for {
		for _, text := range reply.Texts {
			fmt.Fprintln(out, text)
		}
		if reply.Done || ctx.Err() != nil {
			return
		}
		if !scanner.Scan() {
			return
		}
		reply = c.Handle(ctx, conversation.Text(scanner.Text()))
	}
}
