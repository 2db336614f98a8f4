// mockdevice serves a simulated RPC2 device for manual testing of rpc2ctl.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/devicerpc/rpc2ctl/internal/devicetest"
	"github.com/devicerpc/rpc2ctl/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	device := devicetest.New()

	var listen, logLevel string
	flagSet := pflag.NewFlagSet("mockdevice", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", "127.0.0.1:8080", "address to serve the device on")
	flagSet.StringVar(&device.Username, "user", device.Username, "accepted user name")
	flagSet.StringVar(&device.Password, "password", device.Password, "accepted password")
	flagSet.StringVar(&device.Realm, "realm", device.Realm, "login challenge realm")
	flagSet.StringVar(&device.Random, "random", device.Random, "login challenge random")
	flagSet.StringVar(&device.Time, "time", device.Time, "value returned by global.getCurrentTime")
	flagSet.BoolVar(&device.RequireSession, "require-session", device.RequireSession, "reject calls without a logged in session")
	flagSet.StringVar(&logLevel, "log-level", "debug", "debug, info, warn or error")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:     logging.ParseLevel(logLevel),
		Format:    "text",
		Output:    "stderr",
		Component: "mockdevice",
	})
	if err != nil {
		return err
	}
	device.SetLogger(logger)

	server := &http.Server{
		Addr:              listen,
		Handler:           device,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("Mock device listening", "addr", listen, "user", device.Username, "realm", device.Realm)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("Shutting down", "requests", len(device.Requests()))
	return server.Shutdown(shutdownCtx)
}
