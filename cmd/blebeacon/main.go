package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/blebeacon/blebeacon/internal/ble"
	"github.com/blebeacon/blebeacon/internal/config"
	"github.com/blebeacon/blebeacon/internal/server"
)

func main() {
	app := cli.NewApp()
	app.Name = "blebeacon"
	app.Usage = "advertise and scan for BLE beacons"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/blebeacon/config.yaml)",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "init",
			Usage:  "Write the default config file if none exists.",
			Action: initCommand,
		},
		cli.Command{
			Name:   "serve",
			Usage:  "Serve the HTTP and WebSocket API.",
			Action: serveCommand,
		},
		cli.Command{
			Name:  "beacon",
			Usage: "Advertise as an iBeacon until interrupted.",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "uuid, u", Usage: "proximity UUID"},
				cli.IntFlag{Name: "major", Usage: "major value (default from config)"},
				cli.IntFlag{Name: "minor", Usage: "minor value (default from config)"},
				cli.IntFlag{Name: "power, p", Usage: "measured power at 1m in dBm (default from config)"},
			},
			Action: beaconCommand,
		},
		cli.Command{
			Name:  "scan",
			Usage: "Scan and print advertisements until interrupted.",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "service, s", Usage: "only report devices advertising this service UUID"},
				cli.BoolFlag{Name: "ibeacons, i", Usage: "only report iBeacons"},
				cli.StringFlag{Name: "monitor, m", Usage: "monitor region entry for this proximity UUID"},
				cli.StringFlag{Name: "range, r", Usage: "range beacons for this proximity UUID"},
				cli.BoolFlag{Name: "fast", Usage: "scan in low latency mode"},
			},
			Action: scanCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}

func initCommand(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println("Config already exists at", config.DefaultConfigPath())
		return nil
	}
	fmt.Println("Wrote", path)
	return nil
}

func serveCommand(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	printBanner(cfg)

	adapter := ble.NewTinyGoAdapter(cfg.Adapter.ID)
	defer adapter.Close()

	hub := server.NewHub(cfg.Server.EventBuffer)
	manager := ble.NewManager(adapter, hub, managerOptions(cfg))
	srv := server.New(manager, hub)

	ln, err := listen(cfg.Server.Listen)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		manager.Close()
		return err
	case sig := <-sigCh:
		slog.Info("[HTTP] shutting down", "signal", sig.String())
	}

	manager.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func beaconCommand(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	id := c.String("uuid")
	if id == "" {
		return cli.NewExitError("--uuid is required", 2)
	}

	major, minor, power := cfg.Beacon.Major, cfg.Beacon.Minor, cfg.Beacon.MeasuredPower
	if c.IsSet("major") {
		major = c.Int("major")
	}
	if c.IsSet("minor") {
		minor = c.Int("minor")
	}
	if c.IsSet("power") {
		power = c.Int("power")
	}

	adapter := ble.NewTinyGoAdapter(cfg.Adapter.ID)
	defer adapter.Close()
	manager := ble.NewManager(adapter, newConsoleSink(os.Stdout, false), managerOptions(cfg))
	defer manager.Close()

	pending, err := manager.BroadcastAsBeacon(id, ble.BeaconOptions{
		Major:         &major,
		Minor:         &minor,
		MeasuredPower: &power,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	settings, err := pending.Wait(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("starting advertisement: %w", err)
	}

	fmt.Printf("%s %s %d/%d at %d dBm (mode %d, tx power %d)\n",
		green("Advertising"), id, major, minor, power, settings.Mode, settings.TxPower)
	fmt.Println("Ctrl+C to stop.")
	waitForSignal()
	return nil
}

func scanCommand(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}

	beaconsOnly := c.Bool("ibeacons") && c.String("service") == ""
	adapter := ble.NewTinyGoAdapter(cfg.Adapter.ID)
	defer adapter.Close()
	manager := ble.NewManager(adapter, newConsoleSink(os.Stdout, beaconsOnly), managerOptions(cfg))
	defer manager.Close()

	if id := c.String("monitor"); id != "" {
		if _, err := manager.StartMonitoringForRegion(id, ble.RegionOptions{Identifier: "monitor"}); err != nil {
			return err
		}
	}
	if id := c.String("range"); id != "" {
		if _, err := manager.StartRangingBeaconsInRegion(id, ble.RegionOptions{Identifier: "range"}); err != nil {
			return err
		}
	}

	var opts ble.ScanRequestOptions
	if c.Bool("fast") {
		mode := ble.ScanModeLowLatency
		opts.ScanMode = &mode
	}

	var status string
	switch {
	case c.String("service") != "":
		status, err = manager.ScanByService(c.String("service"), opts)
	case c.Bool("ibeacons") || c.String("monitor") != "" || c.String("range") != "":
		id := c.String("monitor")
		if id == "" {
			id = c.String("range")
		}
		status, err = manager.ScanForIBeacons(id, opts)
	default:
		status, err = manager.Scan(nil, opts)
	}
	if err != nil {
		return err
	}

	fmt.Println(cyan(status) + ". Ctrl+C to stop.")
	waitForSignal()
	return nil
}

// setup loads and validates the config and configures logging.
func setup(c *cli.Context) (*config.Config, error) {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadOrDefault(config.DefaultConfigPath())
}

func managerOptions(cfg *config.Config) ble.ManagerOptions {
	return ble.ManagerOptions{
		CompanyID:     cfg.CompanyID,
		RecentDevices: cfg.Scan.RecentDevices,
		ReportDelay:   cfg.Scan.ReportDelay,
	}
}

// listen opens a TCP listener, or a unix socket when addr is a path. A
// stale socket file from a previous run is removed first.
func listen(addr string) (net.Listener, error) {
	if !config.IsUnixSocket(addr) {
		return net.Listen("tcp", addr)
	}
	if err := os.Remove(addr); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	return net.Listen("unix", addr)
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	signal.Stop(sigCh)
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== blebeacon ===")
	fmt.Printf("  Listen:     %s\n", cfg.Server.Listen)
	fmt.Printf("  Adapter:    %s\n", orDefault(cfg.Adapter.ID, "default"))
	fmt.Printf("  Company ID: 0x%04x\n", cfg.CompanyID)
	fmt.Printf("  Log:        %s\n", cfg.LogLevel)
	fmt.Println("=================")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
