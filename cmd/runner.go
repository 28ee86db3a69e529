package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/time/rate"

	"github.com/ivanvanderbyl/marstek/pkg/config"
	"github.com/ivanvanderbyl/marstek/pkg/homekit"
	"github.com/ivanvanderbyl/marstek/pkg/marstek"
)

// runner holds the state shared by every subcommand, resolved from flags,
// environment and config file before the subcommand runs.
type runner struct {
	stdin io.Reader

	verbosity int
	cfg       *config.Config
	logger    *slog.Logger
	target    *net.UDPAddr
	exchanger *marstek.Exchanger
	formatter marstek.Formatter
}

func (r *runner) globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "Path to a TOML config file", EnvVars: []string{"MARSTEK_CONFIG"}},
		&cli.StringFlag{Name: "ip", Value: marstek.DefaultIP, Usage: "Target IP", EnvVars: []string{"MARSTEK_IP"}},
		&cli.IntFlag{Name: "port", Value: marstek.DefaultPort, Usage: "Target UDP port", EnvVars: []string{"MARSTEK_PORT"}},
		&cli.Float64Flag{Name: "timeout", Value: marstek.DefaultTimeout.Seconds(), Usage: "Receive timeout per attempt in seconds", EnvVars: []string{"MARSTEK_TIMEOUT"}},
		&cli.IntFlag{Name: "retries", Value: marstek.DefaultRetries, Usage: "Number of retries on no reply", EnvVars: []string{"MARSTEK_RETRIES"}},
		&cli.StringFlag{Name: "bind", Usage: "Bind to local ip:port (e.g. 0.0.0.0:30000)", EnvVars: []string{"MARSTEK_BIND"}},
		&cli.BoolFlag{Name: "no-pretty", Usage: "Do not pretty-print JSON replies"},
		&cli.BoolFlag{Name: "raw", Usage: "Print raw hex dump instead of JSON decoding"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Increase logging verbosity (-v, -vv)", Count: &r.verbosity},
	}
}

// setup runs before any subcommand. Flags win over the config file, which
// wins over the built-in defaults.
func (r *runner) setup(c *cli.Context) error {
	r.logger = newLogger(c.App.ErrWriter, r.verbosity)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	r.cfg = cfg

	if c.IsSet("ip") {
		cfg.Target.IP = c.String("ip")
	}
	if c.IsSet("port") {
		cfg.Target.Port = c.Int("port")
	}
	if c.IsSet("timeout") {
		cfg.Exchange.Timeout = c.Float64("timeout")
	}
	if c.IsSet("retries") {
		cfg.Exchange.Retries = c.Int("retries")
	}
	if c.IsSet("bind") {
		cfg.Exchange.Bind = c.String("bind")
	}
	if cfg.Exchange.Retries < 0 {
		return cli.Exit("--retries must not be negative", 2)
	}

	r.target, err = marstek.NewEndpoint(cfg.Target.IP, cfg.Target.Port)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	local, err := marstek.ParseBind(cfg.Exchange.Bind)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	r.exchanger = marstek.NewExchanger(r.logger)
	r.exchanger.Timeout = cfg.Exchange.TimeoutDuration()
	r.exchanger.Retries = cfg.Exchange.Retries
	r.exchanger.MaxPackets = cfg.Exchange.MaxPackets
	r.exchanger.LocalAddr = local

	r.formatter = marstek.Formatter{
		Raw:    c.Bool("raw"),
		Pretty: !c.Bool("no-pretty"),
	}

	r.logger.Debug("Resolved settings",
		"target", r.target.String(),
		"bind", cfg.Exchange.Bind,
		"timeout", r.exchanger.Timeout,
		"retries", r.exchanger.Retries,
	)
	return nil
}

func newLogger(w io.Writer, verbosity int) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbosity == 1:
		level = slog.LevelInfo
	case verbosity >= 2:
		level = slog.LevelDebug
	}

	h := slogctx.NewHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), nil)
	return slog.New(h)
}

func (r *runner) statusCommands() []*cli.Command {
	cmds := make([]*cli.Command, 0, len(marstek.StatusQueries))
	for _, q := range marstek.StatusQueries {
		method := q.Method
		cmds = append(cmds, &cli.Command{
			Name:    q.Name,
			Aliases: q.Aliases,
			Usage:   q.Usage,
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "id", Value: 0, Usage: "Device id"},
			},
			Action: func(c *cli.Context) error {
				return r.exchange(c, marstek.ComponentStatus(method, c.Int("id")), true)
			},
		})
	}
	return cmds
}

func (r *runner) send(c *cli.Context) error {
	var inline, file *string
	if c.IsSet("json") {
		v := c.String("json")
		inline = &v
	}
	if c.IsSet("file") {
		v := c.String("file")
		file = &v
	}

	src, err := marstek.ResolveSource(inline, file, c.Bool("stdin"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	payload, err := marstek.LoadPayload(c.Context, src, r.stdin)
	if err != nil {
		if c.Context.Err() != nil {
			return c.Context.Err()
		}
		return cli.Exit(err.Error(), 2)
	}

	if c.IsSet("max-packets") {
		if c.Int("max-packets") <= 0 {
			return cli.Exit("--max-packets must be positive", 2)
		}
		r.exchanger.MaxPackets = c.Int("max-packets")
	}

	return r.exchange(c, payload, !c.Bool("no-reply"))
}

func (r *runner) status(c *cli.Context) error {
	return r.exchange(c, marstek.Placeholder(c.String("key"), c.String("value")), true)
}

func (r *runner) getDevice(c *cli.Context) error {
	return r.exchange(c, marstek.GetDevice(c.String("ble-mac")), true)
}

func (r *runner) exchange(c *cli.Context, payload any, expectReply bool) error {
	res, err := r.exchanger.Exchange(c.Context, r.target, payload, expectReply)
	if err != nil {
		if errors.Is(err, marstek.ErrEncodePayload) {
			return cli.Exit(err.Error(), 2)
		}
		return err
	}

	if res.Outcome == marstek.OutcomeNoReply {
		r.logger.WarnContext(c.Context, "No reply from device", "target", r.target.String(), "attempts", res.Attempts)
	}

	r.printPackets(c.App.Writer, res)
	return nil
}

func (r *runner) allStatus(c *cli.Context) error {
	var limiter *rate.Limiter
	if interval := c.Duration("interval"); interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	var rows []summaryRow
	err := r.exchanger.ExchangeAll(c.Context, r.target, marstek.AllStatus(), limiter, func(req marstek.Request, res *marstek.Result) error {
		r.printPackets(c.App.Writer, res)
		rows = append(rows, summaryRow{method: req.Method, result: res})
		return nil
	})
	if err != nil {
		return err
	}

	if c.Bool("summary") {
		fmt.Fprintln(c.App.Writer, renderSummary(c.App.Writer, rows))
	}
	return nil
}

func (r *runner) homekit(c *cli.Context) error {
	opts := homekit.Options{
		PIN:             r.cfg.HomeKit.PIN,
		StorePath:       r.cfg.HomeKit.Store,
		RefreshInterval: r.cfg.HomeKit.RefreshInterval(),
		Debug:           r.verbosity >= 2,
	}
	if c.IsSet("pin") {
		opts.PIN = c.String("pin")
	}
	if c.IsSet("store") {
		opts.StorePath = c.String("store")
	}
	if c.IsSet("refresh") {
		opts.RefreshInterval = c.Duration("refresh")
	}
	if opts.RefreshInterval <= 0 {
		return cli.Exit("--refresh must be positive", 2)
	}

	device := marstek.NewDevice(r.target, r.exchanger)
	controller := homekit.NewBatteryController(device, opts)

	ctx := slogctx.NewCtx(c.Context, r.logger)
	if err := controller.Run(ctx, r.target.String()); err != nil {
		return errors.Wrap(err, "running HomeKit bridge")
	}
	return nil
}

func (r *runner) printPackets(w io.Writer, res *marstek.Result) {
	for _, packet := range res.Packets {
		fmt.Fprintln(w, r.formatter.Format(packet))
	}
}
