package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sudocast/internal/catalog"
	"sudocast/internal/config"
	"sudocast/internal/convert"
	"sudocast/internal/server"
	"sudocast/internal/sudolog"
	"sudocast/internal/sysmon"
	"sudocast/internal/terminal"
)

// options holds the flag values of one command line.
type options struct {
	configPath  string
	compression string
	verbose     bool

	width    int
	height   int
	duration float64
	term     string
	shell    string

	allowTrailing   bool
	measureDuration bool

	speed     float64
	idleLimit float64
	listen    string
}

func newRootCmd() *cobra.Command {
	o := &options{}

	rootCmd := &cobra.Command{
		Use:   "sudocast",
		Short: "sudocast - convert sudo I/O logs to asciinema casts",
		Long: `sudocast reads a session directory recorded by sudo's I/O logging
(log, timing and ttyout, optionally gzip compressed) and writes it as an
asciinema cast v1 document. It can also replay sessions in the terminal
and serve a directory of sessions over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if o.verbose {
				level = slog.LevelDebug
			}
			// Logs go to stderr so they never mix with a cast on stdout.
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().StringVar(&o.configPath, "config", "", "Config file (default: $SUDOCAST_CONFIG or <user config dir>/sudocast/config.toml)")
	rootCmd.PersistentFlags().StringVar(&o.compression, "compression", "", "Compression of timing and ttyout: none, gzip or auto")
	rootCmd.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "Log debug messages")

	rootCmd.AddCommand(newConvertCmd(o), newInfoCmd(o), newPlayCmd(o), newServeCmd(o))
	return rootCmd
}

func addHeaderFlags(cmd *cobra.Command, o *options) {
	cmd.Flags().IntVar(&o.width, "width", 0, "Terminal width written to the cast (default 89)")
	cmd.Flags().IntVar(&o.height, "height", 0, "Terminal height written to the cast (default 26)")
	cmd.Flags().Float64Var(&o.duration, "duration", 0, "Duration written to the cast header (default 27.221634)")
	cmd.Flags().StringVar(&o.term, "term", "", "TERM written to the cast env (default xterm-256color)")
	cmd.Flags().StringVar(&o.shell, "shell", "", "SHELL written to the cast env (default /bin/bash)")
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, o *options) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("compression") {
		cfg.Compression = o.compression
	}
	if flags.Changed("width") {
		cfg.Width = o.width
	}
	if flags.Changed("height") {
		cfg.Height = o.height
	}
	if flags.Changed("duration") {
		cfg.Duration = o.duration
	}
	if flags.Changed("term") {
		cfg.Term = o.term
	}
	if flags.Changed("shell") {
		cfg.Shell = o.shell
	}
	if flags.Changed("idle-limit") {
		cfg.IdleLimit = o.idleLimit
	}
	if flags.Changed("listen") {
		cfg.Listen = o.listen
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("Configuration loaded", "config", o.configPath, "compression", cfg.Compression,
		"width", cfg.Width, "height", cfg.Height)
	return cfg, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func newConvertCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <session-dir> [output-file]",
		Short: "Convert a session directory to an asciinema cast",
		Long: `Convert a sudo I/O log session directory to an asciinema cast v1 document.

Without output-file, or with "-", the cast is written to stdout. A named
output file is written atomically: on failure no partial file is left and
an existing file is kept.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			out := ""
			if len(args) == 2 {
				out = args[1]
			}
			stats, err := convert.Run(args[0], out, cmd.OutOrStdout(), convert.Options{
				Compression:     cfg.CompressionMode(),
				Header:          cfg.Header(),
				AllowTrailing:   o.allowTrailing,
				MeasureDuration: o.measureDuration,
			})
			if err != nil {
				return fmt.Errorf("convert %s: %w", args[0], err)
			}
			if out != "" && out != "-" {
				slog.Info("Cast written", "path", out, "chunks", stats.Chunks, "bytes", stats.Bytes)
			}
			return nil
		},
	}
	addHeaderFlags(cmd, o)
	cmd.Flags().BoolVar(&o.allowTrailing, "allow-trailing", false, "Accept ttyout bytes not covered by the timing file")
	cmd.Flags().BoolVar(&o.measureDuration, "measure-duration", false, "Write the sum of all delays as the cast duration")
	return cmd
}

func newInfoCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info <session-dir>",
		Short: "Show the metadata and size of a session",
		Long: `Show the metadata and size of a session, the kind of program it
recorded, and whether a process (usually sudo) still writes to it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			dir := args[0]
			meta, err := sudolog.ReadMetadata(dir)
			if err != nil {
				return err
			}
			sum, err := sudolog.Summarize(dir, cfg.CompressionMode())
			if err != nil {
				return err
			}
			outputType, err := catalog.Detect(dir, cfg.CompressionMode())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Start:        %s\n", meta.Start)
			fmt.Fprintf(w, "User:         %s\n", meta.User)
			fmt.Fprintf(w, "Group:        %s\n", meta.Group)
			fmt.Fprintf(w, "Terminal:     %s\n", meta.Terminal)
			fmt.Fprintf(w, "Home:         %s\n", meta.Home)
			fmt.Fprintf(w, "Command:      %s\n", meta.Command)
			fmt.Fprintf(w, "Program:      %s\n", meta.Program())
			fmt.Fprintf(w, "Records:      %d\n", sum.Records)
			fmt.Fprintf(w, "Output bytes: %d\n", sum.TotalBytes)
			fmt.Fprintf(w, "Duration:     %f\n", sum.Duration)
			fmt.Fprintf(w, "Output type:  %s\n", outputType)

			writers, err := sysmon.Writers(cmd.Context(), dir)
			if err != nil {
				slog.Warn("Cannot tell whether the session is still recorded", "error", err)
				return nil
			}
			if len(writers) == 0 {
				fmt.Fprintf(w, "Recording:    finished\n")
			}
			for _, p := range writers {
				fmt.Fprintf(w, "Recording:    active, pid %d (%s) since %s\n", p.PID, p.Name, p.CreateTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newPlayCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <session-dir>",
		Short: "Replay a session in the terminal",
		Long: `Replay a session in the terminal at the recorded pace.

Press q or Ctrl-C to stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			return terminal.Play(cmd.Context(), args[0], os.Stdin, os.Stdout, terminal.Options{
				Compression: cfg.CompressionMode(),
				Speed:       o.speed,
				IdleLimit:   seconds(cfg.IdleLimit),
				Width:       cfg.Width,
				Height:      cfg.Height,
			})
		},
	}
	cmd.Flags().IntVar(&o.width, "width", 0, "Terminal width the session was recorded at (default 89)")
	cmd.Flags().IntVar(&o.height, "height", 0, "Terminal height the session was recorded at (default 26)")
	cmd.Flags().Float64Var(&o.speed, "speed", 1, "Replay speed factor")
	cmd.Flags().Float64Var(&o.idleLimit, "idle-limit", 0, "Maximum pause between outputs in seconds (0: no limit)")
	return cmd
}

func newServeCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <root-dir>",
		Short: "Serve the sessions below a directory over HTTP",
		Long: `Serve the sessions below root-dir over HTTP: a session index, cast
downloads and replay over a websocket. New sessions are picked up while
the server runs. There is no authentication; the default address only
listens on localhost.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			cat := catalog.New(args[0], cfg.CompressionMode())
			if err := cat.Scan(); err != nil {
				return err
			}
			srv, err := server.New(cat, server.Options{
				Convert: convert.Options{
					Compression:   cfg.CompressionMode(),
					Header:        cfg.Header(),
					AllowTrailing: o.allowTrailing,
				},
				Speed:     o.speed,
				IdleLimit: seconds(cfg.IdleLimit),
			})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			ctx := cmd.Context()
			go func() {
				if err := cat.Watch(ctx, time.Second); err != nil {
					slog.Warn("New sessions will not be picked up", "error", err)
				}
			}()
			return srv.Run(ctx, cfg.Listen)
		},
	}
	addHeaderFlags(cmd, o)
	cmd.Flags().StringVarP(&o.listen, "listen", "l", "127.0.0.1:22124", "Address to listen on")
	cmd.Flags().BoolVar(&o.allowTrailing, "allow-trailing", false, "Accept ttyout bytes not covered by the timing file")
	cmd.Flags().Float64Var(&o.speed, "speed", 1, "Replay speed factor")
	cmd.Flags().Float64Var(&o.idleLimit, "idle-limit", 0, "Maximum pause between outputs in seconds (0: no limit)")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
