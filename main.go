package main

import (
	"os"

	"github.com/rulepost/rulepost/pkg/configs"
	"github.com/rulepost/rulepost/pkg/connector"
	"github.com/rulepost/rulepost/pkg/dispatcher"
	"github.com/rulepost/rulepost/pkg/httpapi"
	"github.com/rulepost/rulepost/pkg/logger"
	"github.com/rulepost/rulepost/pkg/mailer"
	"github.com/rulepost/rulepost/pkg/receiver"
	"github.com/rulepost/rulepost/pkg/store"
	"github.com/spf13/cobra"

	"go.uber.org/fx"
)

var config *configs.Config

var rootCmd = &cobra.Command{
	Use:   "rulepost",
	Short: "SMTP server with rule-based mail processing",
	Long: `rulepost receives email over SMTP, stores each message and evaluates it
against user-defined rules that forward mail, call webhooks, publish to a
message bus or run sandboxed scripts.`,
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := run(); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	config = configs.GetConfig()
}

func main() {

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func run() error {

	config.SetConfigs(map[string]interface{}{})

	fx.New(
		fx.Supply(config),
		fx.Provide(
			logger.GetLogger,
			connector.New,
			store.New,
			mailer.New,
			func(c *connector.Connector) dispatcher.BusPublisher { return c },
			func(m *mailer.Mailer) dispatcher.MailTransport { return m },
			func(s *store.Store) dispatcher.RuleStore { return s },
			func(s *store.Store) dispatcher.OutcomeRecorder { return s },
			dispatcher.New,
		),
		fx.Invoke(
			receiver.New,
			httpapi.New,
		),
		fx.NopLogger,
	).Run()

	return nil
}
