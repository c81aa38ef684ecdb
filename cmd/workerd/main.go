// workerd is the scheme worker daemon. A job process spawns one workerd
// per scheme and hands it the socket its command channel lives on; workerd
// then executes commands until the channel closes or it is told to die.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vfsio/workerkit/internal/credcache"
	"github.com/vfsio/workerkit/internal/logger"
	"github.com/vfsio/workerkit/internal/protocol/wire"
	"github.com/vfsio/workerkit/internal/worker"
	"github.com/vfsio/workerkit/pkg/config"
)

var (
	configPath string
	socketPath string
	useStdio   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "workerd",
		Short: "Filesystem scheme worker daemon",
		Long: "workerd executes filesystem operations on behalf of a job " +
			"process over a framed command channel, one worker per scheme.",
		RunE: run,

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.Flags().StringVarP(&socketPath, "socket", "s", "", "unix socket of the job's command channel")
	rootCmd.Flags().BoolVar(&useStdio, "stdio", false, "serve the command channel on stdin/stdout")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "workerd:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()

	handler, err := config.CreateHandler(ctx, &cfg.Scheme, log)
	if err != nil {
		return err
	}

	broker, err := credcache.Open(credcache.Options{
		Path:   cfg.Credentials.Path,
		Logger: log,
	})
	if err != nil {
		return err
	}
	defer broker.Close()

	channel, err := openChannel()
	if err != nil {
		return err
	}

	conn := wire.NewConn(channel)
	defer conn.Close()

	w := worker.New(conn, worker.Options{
		Protocol:    cfg.Scheme.Type,
		Handler:     handler,
		Broker:      broker,
		Logger:      log,
		Config:      timeoutSettings(cfg.Timeouts),
		BatchSize:   cfg.Engine.BatchSize,
		BatchMaxAge: cfg.Engine.BatchMaxAge,
	})
	defer w.Close()

	// SIGTERM sets the kill flag; the engine winds down at the next
	// cooperative checkpoint.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigs
		log.Info("shutdown signal received", "signal", sig.String())
		w.SetKillFlag()
		conn.Close()
	}()

	log.Info("worker started", "scheme", cfg.Scheme.Type, "id", w.ID())
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker terminated: %w", err)
	}
	log.Info("worker finished")
	return nil
}

// timeoutSettings translates the configured bounds into the engine's
// configuration keys. Zero values are left out so the engine defaults
// apply.
func timeoutSettings(t config.TimeoutConfig) map[string]string {
	m := make(map[string]string)
	set := func(key string, seconds int) {
		if seconds > 0 {
			m[key] = strconv.Itoa(seconds)
		}
	}
	set("ConnectTimeout", t.Connect)
	set("ProxyConnectTimeout", t.ProxyConnect)
	set("ResponseTimeout", t.Response)
	set("ReadTimeout", t.Read)
	return m
}

// openChannel connects the command channel per the flags: a unix socket
// when given, stdio otherwise.
func openChannel() (io.ReadWriteCloser, error) {
	if socketPath != "" {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return nil, fmt.Errorf("dial job socket: %w", err)
		}
		return conn, nil
	}
	if useStdio {
		return newStdioChannel(os.Stdin, os.Stdout), nil
	}
	return nil, fmt.Errorf("either --socket or --stdio is required")
}
