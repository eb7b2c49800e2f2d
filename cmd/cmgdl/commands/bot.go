package commands

import (
	"fmt"
	"log/slog"

	"cmgdl/internal/chat/telegram"
	"cmgdl/internal/components/chrono"
	"cmgdl/internal/components/serviceutil"
	"cmgdl/internal/components/telemetry"
	"cmgdl/internal/conversation"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(botCmd)
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Runs the telegram bot until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := setup(ctx)
		defer a.close()

		if a.cfg.Telegram.Token == "" {
			serviceutil.Fatal("invalid config", fmt.Errorf("telegram.token is required"))
		}
		api, err := tgbotapi.NewBotAPI(a.cfg.Telegram.Token)
		if err != nil {
			serviceutil.Fatal("failed to connect to telegram", err)
		}
		api.Debug = a.cfg.Telegram.Debug

		cron := chrono.NewStandardCron(a.clock, a.tel)
		defer cron.Stop()

		store := conversation.NewStore(a.clock, a.cfg.ConversationTimeout())
		err = store.ScheduleSweep(cron, telemetry.NewScopedAPI("conversation", a.tel))
		if err != nil {
			serviceutil.Fatal("failed to schedule conversation sweep", err)
		}

		telemetry.InstrumentPerfStats(ctx, a.tel)

		bot := telegram.NewBot(
			conversation.NewEngine(a.service, a.tel),
			store,
			telegram.NewAPISender(api),
			a.tel,
		)
		slog.Info("bot started", "username", api.Self.UserName)
		bot.Run(ctx, api)
		slog.Info("bot stopped")
	},
}
