// Package coordinator drives one viridian session end to end (§4.6):
// authenticate, build the chosen transport, bring up the tunnel, run
// the pump, and guarantee scoped teardown on any exit path including
// SIGINT/SIGTERM.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"algae/internal/config"
	"algae/internal/control"
	"algae/internal/metrics"
	"algae/internal/pump"
	"algae/internal/transport"
	"algae/internal/transport/port"
	"algae/internal/transport/typhoon"
	"algae/internal/tunnel"
)

// Protocol selects which wire protocol carries the tunnel payload
// (§6.5's `--protocol`).
type Protocol string

const (
	ProtocolPort    Protocol = "port"
	ProtocolTyphoon Protocol = "typhoon"
)

// Params are the inputs a session needs beyond the shared Config
// (§4.6's "peer address, control port, either a (public_key, token)
// pair or credentials to obtain one").
type Params struct {
	Address     string
	ControlPort int
	Protocol    Protocol

	// PublicKey/Token, when both set, skip the control RPC entirely —
	// the §6.4 connection-link path. Otherwise Identifier/APIKey/Name/
	// Days drive an authenticate() call.
	PublicKey []byte
	Token     []byte

	Identifier string
	APIKey     string
	ClientName string
	Days       int

	ControlConfig control.Config

	// Command, when non-empty, is run as a subprocess once the tunnel
	// is up (§6.5's `--command`); the session tears down as soon as it
	// exits, whatever the outcome.
	Command []string
}

// Run executes one full session: authenticate (or reuse a supplied
// link), dial the chosen transport, bring up the tunnel, and pump until
// cancelled or a fatal error occurs. The returned error is nil only on
// clean, intentional shutdown.
func Run(ctx context.Context, cfg config.Config, params Params, log zerolog.Logger, reg *metrics.Registry) error {
	sessionID := uuid.New()
	log = log.With().Str("session", sessionID.String()).Logger()

	runCtx, cancel := signalContext(ctx)
	defer cancel()

	publicKey := params.PublicKey
	token := params.Token
	var typhoonPort, portPort int
	var dns string

	var controlClient *control.Client
	if len(publicKey) == 0 || len(token) == 0 {
		client, err := control.NewClient(params.ControlConfig)
		if err != nil {
			return fmt.Errorf("coordinator: building control client: %w", err)
		}
		controlClient = client

		if err := client.Healthcheck(runCtx); err != nil {
			log.Warn().Err(err).Msg("coordinator: control channel healthcheck failed, authenticating anyway")
		}

		session, err := client.Authenticate(runCtx, params.Identifier, params.APIKey, params.ClientName, params.Days)
		if err != nil {
			reg.HandshakeFailed()
			_ = client.Close()
			return fmt.Errorf("coordinator: authenticate: %w", err)
		}
		publicKey = session.PublicKey
		token = session.Token
		typhoonPort = int(session.TyphoonPort)
		portPort = int(session.PortPort)
		dns = session.DNS
	}
	if controlClient != nil {
		defer controlClient.Close()
	}

	clientName := params.ClientName
	if clientName == "" {
		clientName = params.Identifier
	}

	endpoint, chosenPort, err := dialTransport(runCtx, params, cfg, publicKey, clientName, token, typhoonPort, portPort, log, reg)
	if err != nil {
		reg.HandshakeFailed()
		return fmt.Errorf("coordinator: dialing transport: %w", err)
	}

	tun, err := tunnel.New(tunnel.Config{
		Name:           cfg.Tunnel.Name,
		Address:        cfg.Tunnel.Address,
		Netmask:        cfg.Tunnel.Netmask,
		SVA:            cfg.Tunnel.SVA,
		SeasideAddress: params.Address,
	}, log)
	if err != nil {
		_ = endpoint.Close()
		return fmt.Errorf("coordinator: creating tunnel: %w", err)
	}
	if dns != "" {
		log.Info().Str("dns", dns).Msg("coordinator: resolver advertised by control plane")
	}
	if err := tun.Up(); err != nil {
		_ = endpoint.Close()
		_ = tun.Delete()
		return fmt.Errorf("coordinator: bringing tunnel up: %w", err)
	}

	log.Info().
		Str("address", params.Address).
		Int("control_port", params.ControlPort).
		Int("chosen_port", chosenPort).
		Str("protocol", string(params.Protocol)).
		Msg("coordinator: session established")

	reg.SessionStarted()
	defer reg.SessionTerminated()

	if len(params.Command) > 0 {
		go runCommand(runCtx, cancel, params.Command, log)
	}

	p := pump.New(tun, endpoint, log, reg)
	if err := p.Run(runCtx); err != nil {
		return fmt.Errorf("coordinator: pump: %w", err)
	}
	return nil
}

func dialTransport(ctx context.Context, params Params, cfg config.Config, publicKey []byte, clientName string, token []byte, typhoonPort, portPort int, log zerolog.Logger, reg *metrics.Registry) (transport.Endpoint, int, error) {
	switch params.Protocol {
	case ProtocolPort:
		chosenPort := portPort
		if chosenPort == 0 {
			chosenPort = params.ControlPort
		}
		client, err := port.Dial(ctx, params.Address, chosenPort, publicKey, clientName, token, port.KeepAlive{
			Idle:     cfg.Port.KeepAliveIdle,
			Interval: cfg.Port.KeepAliveInterval,
			Count:    cfg.Port.KeepAliveCount,
		}, cfg.Port.MaxTail)
		if err != nil {
			return nil, 0, err
		}
		return client, chosenPort, nil
	case ProtocolTyphoon:
		chosenPort := typhoonPort
		if chosenPort == 0 {
			chosenPort = params.ControlPort
		}
		client, err := typhoon.Dial(ctx, params.Address, chosenPort, publicKey, clientName, token, cfg.Typhoon, log, reg)
		if err != nil {
			return nil, 0, err
		}
		return client, chosenPort, nil
	default:
		return nil, 0, fmt.Errorf("coordinator: unrecognized protocol %q", params.Protocol)
	}
}

// runCommand runs command inside the established tunnel and cancels the
// session as soon as it exits, success or failure (§6.5's `--command`).
func runCommand(ctx context.Context, cancel context.CancelFunc, command []string, log zerolog.Logger) {
	defer cancel()
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		log.Warn().Err(err).Strs("command", command).Msg("coordinator: subprocess exited with an error")
	}
}

// signalContext derives a context that is cancelled on SIGINT/SIGTERM,
// mirroring §4.6's "on SIGINT/SIGTERM, the coordinator signals
// cancellation". Mirrors the teacher pack's signal.Notify-then-stop
// idiom, adapted to produce a context instead of blocking on a channel
// read directly.
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
