package main

import (
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/studious/planner"
	"github.com/studious/planner/calendar"
	"github.com/studious/planner/calendar/google"
	"github.com/studious/planner/calendar/ics"
	"github.com/studious/planner/internal/cache"
	"github.com/studious/planner/internal/engine"
	"github.com/studious/planner/internal/gateway"
	"github.com/studious/planner/internal/reminder"
	"github.com/studious/planner/internal/sqlite"
)

type environmentVariables struct {
	APIURL          string `env:"PLANNER_API_URL,required"`
	APIToken        string `env:"PLANNER_API_TOKEN,required"`
	DBFile          string `env:"PLANNER_DB_FILE" envDefault:"planner.db"`
	Timezone        string `env:"PLANNER_TIMEZONE" envDefault:"UTC"`
	LogLevel        string `env:"PLANNER_LOG_LEVEL" envDefault:"info"`
	RememberFilters bool   `env:"PLANNER_REMEMBER_FILTERS" envDefault:"true"`
	EventsColor     string `env:"PLANNER_EVENTS_COLOR" envDefault:"#ffae27"`
	GoogleCredFile  string `env:"GOOGLE_CREDENTIALS_FILE" envDefault:"credentials.json"`
}

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "planner",
		Usage: "Aggregate coursework, events and external calendars into one agenda.",
		Commands: []*cli.Command{
			agendaCommand(),
			remindCommand(),
			linkGoogleCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setup() (*environmentVariables, *logrus.Entry, error) {
	envVars := &environmentVariables{}
	if err := env.Parse(envVars); err != nil {
		return nil, nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(envVars.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return envVars, logrus.NewEntry(logger), nil
}

func buildEngine(envVars *environmentVariables, log *logrus.Entry, renderer engine.Renderer) (*engine.Engine, planner.Gateway, error) {
	loc, err := time.LoadLocation(envVars.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timezone %q: %w", envVars.Timezone, err)
	}

	db, err := sql.Open(sqlite.DriverName, envVars.DBFile)
	if err != nil {
		return nil, nil, fmt.Errorf("opening state db: %w", err)
	}
	store := sqlite.NewStore(db)

	client := gateway.New(envVars.APIURL, envVars.APIToken, loc, log.WithField("component", "gateway"))
	cached := cache.Wrap(client, log.WithField("component", "cache"))

	sources := calendar.NewMux()
	sources.Register(ics.Platform, ics.NewSource(log.WithField("component", "ics")))
	if credJSON, err := os.ReadFile(envVars.GoogleCredFile); err == nil {
		googleSource, err := google.NewSource(credJSON, store)
		if err != nil {
			return nil, nil, err
		}
		sources.Register(google.Platform, googleSource)
	}

	eng := engine.New(engine.Config{
		Gateway:         cached,
		Store:           store,
		Renderer:        renderer,
		Sources:         sources,
		Log:             log.WithField("component", "engine"),
		Location:        loc,
		RememberFilters: envVars.RememberFilters,
		EventsColor:     envVars.EventsColor,
	})
	return eng, cached, nil
}

func agendaCommand() *cli.Command {
	return &cli.Command{
		Name:  "agenda",
		Usage: "Print the calendar items for one week.",
		Flags: []cli.Flag{
			&cli.GenericFlag{Name: "start", Value: &planner.Date{}, Usage: "First day of the week to show (defaults to this week)."},
			&cli.StringFlag{Name: "search", Usage: "Only show items matching this text."},
		},
		Action: func(c *cli.Context) error {
			envVars, log, err := setup()
			if err != nil {
				return err
			}

			renderer := newConsoleRenderer(os.Stdout)
			eng, _, err := buildEngine(envVars, log, renderer)
			if err != nil {
				return err
			}
			if err := eng.Init(c.Context); err != nil {
				return err
			}

			if search := c.String("search"); search != "" {
				fs := eng.Filters()
				fs.Search = search
				if err := eng.SetFilters(c.Context, fs); err != nil {
					return err
				}
			}

			w := planner.WeekWindow(time.Now())
			if start, ok := c.Generic("start").(*planner.Date); ok && !start.IsZero() {
				w = planner.WeekWindow(start.Time)
			}
			if err := eng.Refresh(c.Context, w); err != nil {
				return err
			}

			renderer.Flush()
			return nil
		},
	}
}

func remindCommand() *cli.Command {
	return &cli.Command{
		Name:  "remind",
		Usage: "Watch for due reminders and print them as they fire.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Poll once and exit."},
		},
		Action: func(c *cli.Context) error {
			envVars, log, err := setup()
			if err != nil {
				return err
			}

			_, gw, err := buildEngine(envVars, log, newConsoleRenderer(os.Stdout))
			if err != nil {
				return err
			}

			poller := reminder.NewPoller(gw, newConsoleNotifier(os.Stdout), log.WithField("component", "reminder"))
			if c.Bool("once") {
				return poller.Poll(c.Context)
			}

			if err := poller.Start(c.Context); err != nil {
				return err
			}
			defer poller.Stop()

			ch := make(chan os.Signal, 1)
			signal.Notify(ch, os.Interrupt)
			select {
			case <-ch:
			case <-c.Context.Done():
			}
			return nil
		},
	}
}

func linkGoogleCommand() *cli.Command {
	return &cli.Command{
		Name:  "link-google",
		Usage: "Link a Google account to an external calendar.",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "calendar", Required: true, Usage: "ID of the external calendar to link."},
		},
		Action: func(c *cli.Context) error {
			envVars, _, err := setup()
			if err != nil {
				return err
			}

			credJSON, err := os.ReadFile(envVars.GoogleCredFile)
			if err != nil {
				return fmt.Errorf("reading credentials file: %w", err)
			}

			db, err := sql.Open(sqlite.DriverName, envVars.DBFile)
			if err != nil {
				return fmt.Errorf("opening state db: %w", err)
			}
			store := sqlite.NewStore(db)

			source, err := google.NewSource(credJSON, store)
			if err != nil {
				return err
			}

			token, err := source.Login(c.Context)
			if err != nil {
				return err
			}

			calendarID := c.Int64("calendar")
			if err := store.Set(c.Context, google.TokenKey(calendarID), string(token)); err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "Calendar %d linked.\n", calendarID)
			return nil
		},
	}
}
