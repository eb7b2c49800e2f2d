package commands

import (
	"io"
	"os"
	"time"

	"cmgdl/internal/components/serviceutil"
	"cmgdl/internal/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit *int64

func init() {
	historyLimit = historyCmd.Flags().Int64("limit", 20, "The amount of events to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>]",
	Short: "Prints the latest follows, purchases and downloads.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := setup(ctx)
		defer a.close()

		events, err := a.service.History(ctx, *historyLimit)
		if err != nil {
			serviceutil.Fatal("failed to read history", err)
		}
		spent, err := a.service.Spent(ctx)
		if err != nil {
			serviceutil.Fatal("failed to read history", err)
		}
		renderHistory(os.Stdout, events, spent, a.clock.Location())
	},
}

func renderHistory(out io.Writer, events []db.Event, spent int64, loc *time.Location) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Time", "Kind", "Post", "Attachment", "Name", "Author", "Point"})
	for _, e := range events {
		t.AppendRow(table.Row{
			time.Unix(e.CreatedAt, 0).In(loc).Format(time.DateTime),
			string(e.Kind),
			e.PostID,
			e.AttachmentID,
			e.AttachmentName,
			e.AuthorID,
			e.Point,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Spent", spent})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
