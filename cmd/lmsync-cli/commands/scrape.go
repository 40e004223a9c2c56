package commands

import (
	"lmsync-backend/lib/configutil"
	"lmsync-backend/lib/scrapers/moodle/calendar"
	"lmsync-backend/lib/scrapers/moodle/core"
	"lmsync-backend/lib/serviceutil"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type scrapeConfig struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

var withDates *bool

func init() {
	withDates = scrapeCmd.Flags().Bool("dates", false, "Fetch opens/closes dates from each event's detail page.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--dates]",
	Short: "Logs into the portal and prints the calendar listing without syncing anything.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := configutil.ReadConfig[scrapeConfig]("config.json5")
		if err != nil {
			serviceutil.Fatal("read config", err)
		}

		client, err := core.NewClient(ctx, core.ClientOptions{BaseUrl: cfg.BaseUrl})
		if err != nil {
			serviceutil.Fatal("initialize portal client", err)
		}
		err = client.LoginUsernamePassword(ctx, cfg.Username, cfg.Password)
		if err != nil {
			serviceutil.Fatal("login to portal", err)
		}

		cal := calendar.NewClient(client)
		events, err := cal.Events(ctx)
		if err != nil {
			serviceutil.Fatal("list calendar events", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		if *withDates {
			t.AppendHeader(table.Row{"id", "course", "type", "title", "opened", "closes"})
		} else {
			t.AppendHeader(table.Row{"id", "course", "type", "title", "link"})
		}

		for _, event := range events {
			if *withDates {
				dates, err := cal.ActivityDates(ctx, event)
				if err != nil {
					dates = calendar.ActivityDates{Opened: "?", Closes: "?"}
				}
				t.AppendRow(table.Row{
					event.Id, event.CourseLabel, event.Type, event.Title,
					dates.Opened, dates.Closes,
				})
				continue
			}
			t.AppendRow(table.Row{
				event.Id, event.CourseLabel, event.Type, event.Title, event.Link,
			})
		}

		t.Render()
	},
}
