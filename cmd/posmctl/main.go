package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"posmdesk/internal/app"
	"posmdesk/internal/config"
	"posmdesk/internal/domain/access"
)

// cliActor stands in for an operator running posmctl on the host.
var cliActor = access.Actor{Role: access.RoleAdmin, Origin: "posmctl", UserAgent: "posmctl"}

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}
	config.LoadEnvFiles()
	if err := newRoot(os.Stdout).Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

func newRoot(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "posmctl",
		Usage: "POSM desk maintenance commands",
		Commands: []*cli.Command{
			migrateCommand(),
			seedAdminCommand(out),
			seedDemoCommand(out),
			reportsCommand(out),
			notificationsCommand(out),
		},
	}
}

// withApp builds the service graph from the environment and runs fn.
func withApp(fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the database schema",
		Action: func(ctx context.Context, c *cli.Command) error {
			return withApp(func(a *app.App) error {
				return a.Migrate()
			})
		},
	}
}

func seedAdminCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "seed-admin",
		Usage: "Create the first admin account if the email is unused",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "name", Value: "Administrator"},
			&cli.StringFlag{Name: "password", Required: true, Sources: cli.EnvVars("POSMCTL_ADMIN_PASSWORD")},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withApp(func(a *app.App) error {
				if err := a.Migrate(); err != nil {
					return err
				}
				u, created, err := a.Users.EnsureAdmin(ctx, c.String("email"), c.String("name"), c.String("password"))
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(out, "admin created id=%d email=%s\n", u.ID, u.Email)
				} else {
					fmt.Fprintf(out, "admin exists id=%d email=%s\n", u.ID, u.Email)
				}
				return nil
			})
		},
	}
}

func seedDemoCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "seed-demo",
		Usage: "Load demo depots, dealers and stock rows; safe to rerun",
		Action: func(ctx context.Context, c *cli.Command) error {
			return withApp(func(a *app.App) error {
				if err := a.Migrate(); err != nil {
					return err
				}
				res, err := seedDemo(ctx, a)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "demo data: depots=%d dealers=%d stock_rows=%d\n", res.Depots, res.Dealers, res.Rows)
				return nil
			})
		},
	}
}

func reportsCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "reports",
		Usage: "Scheduled report commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List scheduled reports",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(func(a *app.App) error {
						reports, err := a.Reports.List(ctx, cliActor)
						if err != nil {
							return err
						}
						return printJSON(out, reports)
					})
				},
			},
			{
				Name:  "tick",
				Usage: "Fire every report due this minute",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(func(a *app.App) error {
						res, err := a.Engine.TickOnce(ctx, time.Now())
						if err != nil {
							return err
						}
						return printJSON(out, res)
					})
				},
			},
			{
				Name:  "test-send",
				Usage: "Build and deliver one report now",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "id", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(func(a *app.App) error {
						p, err := a.Reports.TestSend(ctx, cliActor, c.Int64("id"))
						if err != nil {
							return err
						}
						return printJSON(out, p)
					})
				},
			},
		},
	}
}

func notificationsCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "notifications",
		Usage: "Notification maintenance",
		Commands: []*cli.Command{
			{
				Name:  "cleanup",
				Usage: "Delete read notifications older than the retention",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "retention", Usage: "defaults to NOTIFICATION_RETENTION"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(func(a *app.App) error {
						retention := c.Duration("retention")
						if retention <= 0 {
							retention = a.Config.NoticeRetention
						}
						deleted, err := a.Notifications.Cleanup(ctx, retention)
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "notifications deleted=%d\n", deleted)
						return nil
					})
				},
			},
		},
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
