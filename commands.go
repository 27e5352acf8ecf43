package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/kylycht/currencycalc/model"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func newCLI() *cli.App {
	return &cli.App{
		Name:  "currencycalc",
		Usage: "calculator that converts between tracked currencies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				Usage:   "path to the yaml configuration file",
				EnvVars: []string{envPrefix + "_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the http server with background rate refresh",
				Action: withApplication(serveAction),
			},
			{
				Name:   "refresh",
				Usage:  "fetch rates once and persist them",
				Action: withApplication(refreshAction),
			},
			{
				Name:  "convert",
				Usage: "convert an amount with the current rates",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from", Required: true},
					&cli.StringFlag{Name: "to", Required: true},
					&cli.StringFlag{Name: "amount", Value: "1"},
				},
				Action: withApplication(convertAction),
			},
			{
				Name:   "rates",
				Usage:  "print the rate snapshot in force",
				Action: withApplication(ratesAction),
			},
			{
				Name:      "calc",
				Usage:     "press calculator keys and print the tracked amounts",
				ArgsUsage: "KEY...",
				Action:    withApplication(calcAction),
			},
		},
	}
}

func withApplication(action func(*cli.Context, *Application) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c.String("config"))
		if err != nil {
			return err
		}
		setupLogger(cfg.LogLevel)

		a, err := newApplication(c.Context, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		return action(c, a)
	}
}

func serveAction(c *cli.Context, a *Application) error {
	return a.serve(c.Context)
}

func refreshAction(c *cli.Context, a *Application) error {
	ctx, cancelFn := context.WithTimeout(c.Context, a.cfg.FetchTimeout)
	defer cancelFn()

	snapshot, err := a.engine.Refresh(ctx, a.cfg.BaseCurrency)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "fetched %d rates for %s at %s\n",
		len(snapshot.Rates), snapshot.Base, snapshot.FetchedTime().UTC().Format(time.RFC3339))
	return nil
}

func convertAction(c *cli.Context, a *Application) error {
	amount, err := decimal.NewFromString(c.String("amount"))
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", c.String("amount"), err)
	}

	a.refreshIfStale(c.Context)

	result := a.engine.Convert(amount, c.String("from"), c.String("to"))
	fmt.Fprintln(c.App.Writer, result.StringFixed(2))
	return nil
}

func ratesAction(c *cli.Context, a *Application) error {
	a.refreshIfStale(c.Context)

	snapshot, ok := a.engine.Snapshot()
	if !ok {
		return fmt.Errorf("no rates available for %s", a.cfg.BaseCurrency)
	}

	writeSnapshot(c.App.Writer, snapshot, a.engine.NeedsRefresh(a.cfg.MaxRateAge))
	return nil
}

func writeSnapshot(w io.Writer, snapshot model.RateSnapshot, stale bool) {
	fmt.Fprintf(w, "base %s updated %s", snapshot.Base, snapshot.FetchedTime().UTC().Format(time.RFC3339))
	if stale {
		fmt.Fprint(w, " (stale)")
	}
	fmt.Fprintln(w)

	codes := make([]string, 0, len(snapshot.Rates))
	for code := range snapshot.Rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		fmt.Fprintf(w, "%s\t%s\n", code, decimal.NewFromFloat(snapshot.Rates[code]).String())
	}
}

func calcAction(c *cli.Context, a *Application) error {
	a.refreshIfStale(c.Context)

	sess := a.newSession()
	for _, arg := range c.Args().Slice() {
		for _, key := range splitKeys(arg) {
			if _, err := sess.Press(key); err != nil {
				return fmt.Errorf("key %q: %w", key, err)
			}
		}
	}

	fmt.Fprintln(c.App.Writer, sess.Display())
	for _, t := range sess.Tracked() {
		marker := " "
		if t.IsActive {
			marker = "*"
		}
		fmt.Fprintf(c.App.Writer, "%s %s\t%s\n", marker, t.Currency.Code, t.Amount.StringFixed(2))
	}
	return nil
}

// splitKeys turns "12.5" into single digit keys, other tokens pass through.
func splitKeys(arg string) []string {
	if arg == "" || strings.Trim(arg, "0123456789.") != "" {
		return []string{arg}
	}

	keys := make([]string, 0, len(arg))
	for _, r := range arg {
		keys = append(keys, string(r))
	}
	return keys
}
