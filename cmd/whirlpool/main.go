// Command whirlpool is the caerulean CLI (§4.7, §6.5): it listens for
// viridian handshakes on one wire protocol, admits sessions, and serves
// its own counters on a loopback /metrics endpoint.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"algae/internal/config"
	"algae/internal/crypto"
	"algae/internal/listener"
	"algae/internal/logging"
	"algae/internal/metrics"
	"algae/internal/transport/port"
	"algae/internal/wire"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "whirlpool",
		Short:   "caerulean VPN listener",
		Version: version,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		address        string
		controlPort    int
		protocol       string
		seedHex        string
		metricsAddress string
		envFile        string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept viridian connections and admit sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return fmt.Errorf("whirlpool: loading configuration: %w", err)
			}

			var seed []byte
			if seedHex != "" {
				seed, err = hex.DecodeString(seedHex)
				if err != nil {
					return fmt.Errorf("whirlpool: decoding --seed: %w", err)
				}
			} else {
				asym, err := crypto.GenerateAsymmetric()
				if err != nil {
					return fmt.Errorf("whirlpool: generating keypair: %w", err)
				}
				seed, err = crypto.ExportSeed(asym)
				if err != nil {
					return fmt.Errorf("whirlpool: exporting generated keypair: %w", err)
				}
			}

			log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: true})
			reg := metrics.New()

			ln, err := listener.New(listener.Config{
				Address:        address,
				ControlPort:    controlPort,
				Protocol:       listener.Protocol(protocol),
				KeypairSeed:    seed,
				PortKeepAlive:  port.KeepAlive{Idle: cfg.Port.KeepAliveIdle, Interval: cfg.Port.KeepAliveInterval, Count: cfg.Port.KeepAliveCount},
				MaxTail:        cfg.Port.MaxTail,
				Typhoon:        cfg.Typhoon,
				MetricsAddress: metricsAddress,
			}, log, reg)
			if err != nil {
				return fmt.Errorf("whirlpool: starting listener: %w", err)
			}
			defer ln.Close()

			log.Info().Str("public_key", hex.EncodeToString(ln.PublicKey())).Msg("whirlpool: listening")

			ctx, cancel := signalContext(context.Background())
			defer cancel()

			err = ln.Serve(ctx,
				func(clientName string, token []byte) wire.Status {
					return wire.StatusSuccess
				},
				func(userID uint16, data []byte) {},
			)
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("whirlpool: serve: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "0.0.0.0", "address to listen on")
	cmd.Flags().IntVar(&controlPort, "port", 443, "control channel / handshake port")
	cmd.Flags().StringVar(&protocol, "protocol", string(listener.ProtocolTyphoon), "wire protocol: port or typhoon")
	cmd.Flags().StringVar(&seedHex, "seed", "", "hex-encoded 64-byte keypair seed; a fresh one is generated if omitted")
	cmd.Flags().StringVar(&metricsAddress, "metrics-address", "", "loopback address:port to serve /metrics on (disabled if empty)")
	cmd.Flags().StringVar(&envFile, "env", "", "optional .env-style configuration file")

	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
