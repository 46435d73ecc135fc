// a11yd - accessibility broadcast and name-ownership daemon
//
// a11yd serves the org.freedesktop.a11y.KeyboardMonitor interface on the
// session bus, tracks which connection owns which well-known bus name,
// and exposes a local control socket for a11yctl.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"a11yd/internal/activation"
	"a11yd/internal/config"
	"a11yd/internal/ipc"
	"a11yd/internal/keymon"
	"a11yd/internal/logging"
	"a11yd/internal/nameowners"
)

func main() {
	var (
		configPath     = flag.String("config", "", "path to config file (toml, yaml, or json)")
		waylandDisplay = flag.String("wayland-display", os.Getenv("WAYLAND_DISPLAY"), "wayland display to publish to the activation environment")
		x11Display     = flag.String("display", os.Getenv("DISPLAY"), "X11 display to publish to the activation environment")
	)
	flag.Parse()

	if err := run(*configPath, *waylandDisplay, *x11Display); err != nil {
		fmt.Fprintf(os.Stderr, "a11yd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, waylandDisplay, x11Display string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	defer loader.Close()

	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	logging.SetDefault(log)

	// Hot-reload the log level on config changes; structural settings
	// need a restart.
	loader.OnChange(func(next *config.Config) {
		level, err := logging.ParseLevel(next.Logging.Level)
		if err != nil {
			log.Warn("ignoring reloaded log level", "err", err)
			return
		}
		logging.SetLevel(level)
		log.Info("log level reloaded", "level", next.Logging.Level)
	})
	if configPath != "" {
		if watchErrs, err := loader.Watch(); err != nil {
			log.Warn("config watch unavailable", "err", err)
		} else {
			go func() {
				for err := range watchErrs {
					log.Warn("config reload failed", "err", err)
				}
			}()
		}
	}

	conn, err := connectSessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}
	defer conn.Close()

	registry, err := nameowners.New(conn, nameowners.Options{
		Enforce:      cfg.Bus.EnforceNameOwners,
		PollInterval: cfg.Bus.PollInterval(),
		Logger:       logging.WithComponent(log, "nameowners"),
	})
	if err != nil {
		return fmt.Errorf("start name ownership registry: %w", err)
	}
	defer registry.Close()

	monitor := keymon.NewMonitor(keymon.Options{
		QueueSize: cfg.Bus.BroadcastQueue,
		Logger:    logging.WithComponent(log, "keymon"),
	})
	defer monitor.Close()

	// Garbage-collect client sessions when their connection leaves the
	// bus. The registry's stream carries the disconnect events when it
	// is enforcing; otherwise the monitor watches on its own.
	if registry.Enforcing() {
		registry.OnDisconnect(monitor.RemoveClient)
	} else if err := monitor.WatchDisconnects(conn); err != nil {
		log.Warn("session cleanup unavailable", "err", err)
	}

	if err := monitor.Serve(conn); err != nil {
		// The service stays up with broadcast disabled; queries behave
		// as if no clients exist.
		log.Error("keyboard monitor disabled", "err", err)
	}

	if err := activation.UpdateEnvironment(conn,
		activation.DisplayVars(waylandDisplay, x11Display)); err != nil {
		log.Warn("activation environment not updated", "err", err)
	}

	var ctl *ipc.Server
	if cfg.IPC.Enabled {
		ctl = ipc.NewServer(cfg.IPC.SocketPath, func() ipc.Status {
			s := monitor.Stats()
			return ipc.Status{
				Clients:       s.Clients,
				Grabbed:       s.Grabbed,
				Watched:       s.Watched,
				KeyGrabs:      s.KeyGrabs,
				DroppedEvents: s.Dropped,
				Owners:        registry.OwnerCount(),
				Enforcing:     registry.Enforcing(),
				Degraded:      registry.Degraded(),
			}
		}, logging.WithComponent(log, "ipc"))
		if err := ctl.Start(); err != nil {
			log.Warn("control socket unavailable", "err", err)
		} else {
			defer ctl.Close()
		}
	}

	log.Info("a11yd running",
		"enforce_name_owners", cfg.Bus.EnforceNameOwners,
		"broadcast_queue", cfg.Bus.BroadcastQueue)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Info("shutting down", "signal", sig.String())
	return nil
}

// connectSessionBus opens a private session-bus connection with a
// sequential signal handler, so undelivered signals buffer in order
// instead of being discarded.
func connectSessionBus() (*dbus.Conn, error) {
	conn, err := dbus.SessionBusPrivate(
		dbus.WithSignalHandler(dbus.NewSequentialSignalHandler()))
	if err != nil {
		return nil, err
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func buildLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		Component: "a11yd",
	}), nil
}
