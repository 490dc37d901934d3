// Command algae is the viridian CLI (§6.5): it authenticates to a
// caerulean/whirlpool node, or reuses a pre-minted connection link,
// brings up a local tunnel, and pumps traffic through it until
// interrupted.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"algae/internal/config"
	"algae/internal/control"
	"algae/internal/coordinator"
	"algae/internal/logging"
	"algae/internal/metrics"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "algae",
		Short:   "viridian VPN client",
		Version: version,
	}
	root.AddCommand(newConnectCmd())
	return root
}

func newConnectCmd() *cobra.Command {
	var (
		address     string
		controlPort int
		publicKey   string
		protocol    string
		link        string
		command     string
		identifier  string
		apiKey      string
		clientName  string
		days        int
		rootCA      string
		envFile     string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a caerulean node and bring up the tunnel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return fmt.Errorf("algae: loading configuration: %w", err)
			}

			log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: true})
			reg := metrics.New()

			params := coordinator.Params{
				ControlPort: controlPort,
				Protocol:    coordinator.Protocol(protocol),
				Identifier:  identifier,
				APIKey:      apiKey,
				ClientName:  clientName,
				Days:        days,
				ControlConfig: control.Config{
					ControlPort: controlPort,
					RootCAPath:  rootCA,
				},
			}
			if rootCA == "" {
				params.ControlConfig.RootCAPath = cfg.RootCAPath
			}
			if command != "" {
				params.Command = strings.Fields(command)
			}

			if link != "" {
				parsed, err := control.ParseLink(link)
				if err != nil {
					return fmt.Errorf("algae: parsing link: %w", err)
				}
				params.Address = parsed.Host
				params.ControlPort = parsed.ControlPort
				params.PublicKey = parsed.PublicKey
				params.Token = parsed.Token
				params.ControlConfig.ControlPort = parsed.ControlPort
			} else {
				params.Address = address
				if publicKey != "" {
					key, err := hex.DecodeString(publicKey)
					if err != nil {
						return fmt.Errorf("algae: decoding --key: %w", err)
					}
					params.PublicKey = key
				}
			}
			params.ControlConfig.Address = params.Address

			if err := coordinator.Run(context.Background(), cfg, params, log, reg); err != nil {
				log.Error().Err(err).Msg("algae: session ended with an error")
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "caerulean node address")
	cmd.Flags().IntVar(&controlPort, "port", 443, "control channel port")
	cmd.Flags().StringVar(&publicKey, "key", "", "peer public key, hex-encoded")
	cmd.Flags().StringVar(&protocol, "protocol", string(coordinator.ProtocolTyphoon), "wire protocol: port or typhoon")
	cmd.Flags().StringVar(&link, "link", "", "seaside+<nodetype>:// connection link; overrides --address/--port/--key")
	cmd.Flags().StringVar(&command, "command", "", "run this subprocess inside the VPN, tearing down when it exits")
	cmd.Flags().StringVar(&identifier, "identifier", "", "account identifier for authenticate()")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for authenticate()")
	cmd.Flags().StringVar(&clientName, "name", "", "client name presented during the handshake")
	cmd.Flags().IntVar(&days, "days", 0, "requested session lifetime in days")
	cmd.Flags().StringVar(&rootCA, "root-ca", "", "root CA file for the mutual-TLS control channel")
	cmd.Flags().StringVar(&envFile, "env", "", "optional .env-style configuration file")

	return cmd
}
