package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mudpuppy/mudpuppy/pkg/client"
	"github.com/mudpuppy/mudpuppy/pkg/config"
	"github.com/mudpuppy/mudpuppy/pkg/script"
	"github.com/mudpuppy/mudpuppy/pkg/session"
	"github.com/mudpuppy/mudpuppy/pkg/tui"
)

var version = "dev" // set via -ldflags at release time

// envDefault returns the environment variable value if set, otherwise the
// fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	configDir := flag.String("config", envDefault("MUDPUPPY_CONFIG", ""), "Config directory (env: MUDPUPPY_CONFIG)")
	dataDir := flag.String("data", envDefault("MUDPUPPY_DATA", ""), "Data/log directory (env: MUDPUPPY_DATA)")
	logLevel := flag.String("log-level", envDefault("LOG", "info"), "Log level: info or debug (env: LOG)")
	connectTo := flag.String("connect", "", "Connect to the named MUD at startup")
	flag.Parse()

	if *configDir == "" {
		dir, err := config.Dir()
		if err != nil {
			fatalf("cannot determine config directory: %v", err)
		}
		*configDir = dir
	}
	if *dataDir == "" {
		dir, err := config.DataDir()
		if err != nil {
			fatalf("cannot determine data directory: %v", err)
		}
		*dataDir = dir
	}

	// Startup failures are fatal: directories, the log file, the config
	// file, script modules, --connect and the terminal all exit the process.
	// Once the TUI runs, errors surface on a session instead.
	if err := os.MkdirAll(*configDir, 0o755); err != nil {
		fatalf("cannot create config directory: %v", err)
	}
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fatalf("cannot create data directory: %v", err)
	}

	logPath := filepath.Join(*dataDir, "mudpuppy.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fatalf("cannot open log file: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(logFile)
	if *logLevel == "debug" {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	session.Version = version
	log.Printf("mudpuppy %s starting (config: %s, data: %s)", version, *configDir, *dataDir)

	cfgPath := filepath.Join(*configDir, "config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("loading %s: %v", cfgPath, err)
	}

	scripts := script.NewRegistry()
	scripts.Register(script.TTypeModule{})
	scripts.Register(script.CharsetModule{})

	engine := client.New(cfg, scripts)
	if err := engine.LoadScripts(); err != nil {
		fatalf("loading script modules: %v", err)
	}

	stopWatch, err := config.Watch(*configDir, engine.SetConfig)
	if err != nil {
		log.Printf("config watcher unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	if cfg.MetricsPort > 0 {
		engine.Metrics().Serve(cfg.MetricsPort)
		log.Printf("metrics on 127.0.0.1:%d", cfg.MetricsPort)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("engine stopped: %v", err)
		}
	}()

	if *connectTo != "" {
		s, err := engine.NewSession(*connectTo)
		if err != nil {
			fatalf("%v", err)
		}
		if err := engine.Connect(s.ID); err != nil {
			fatalf("connecting to %s: %v", *connectTo, err)
		}
	}

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.MouseEnabled {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	program := tea.NewProgram(tui.New(engine), opts...)
	if _, err := program.Run(); err != nil {
		fatalf("terminal error: %v", err)
	}
	engine.Quit()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "mudpuppy: "+format+"\n", args...)
	os.Exit(1)
}
