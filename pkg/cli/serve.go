package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/getfaultd/faultd/pkg/admin"
	"github.com/getfaultd/faultd/pkg/config"
	"github.com/getfaultd/faultd/pkg/fault"
	"github.com/getfaultd/faultd/pkg/keystore"
	"github.com/getfaultd/faultd/pkg/logging"
	"github.com/getfaultd/faultd/pkg/server"
	"github.com/getfaultd/faultd/pkg/stub"
)

const shutdownGrace = 10 * time.Second

func newServeCommand() *cobra.Command {
	var (
		configFile        string
		bindAddress       string
		httpsPort         int
		adminPort         int
		certFile          string
		keyFile           string
		passphrase        string
		caCertFile        string
		caPassphrase      string
		requireClientAuth bool
		logLevel          string
		logJSON           bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTPS stub server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultConfiguration()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFile(configFile)
				if err != nil {
					return err
				}
			}

			// Flags override file values.
			flags := cmd.Flags()
			if flags.Changed("bind") {
				cfg.BindAddress = bindAddress
			}
			if flags.Changed("https-port") {
				cfg.HTTPSPort = httpsPort
			}
			if flags.Changed("admin-port") {
				cfg.AdminPort = adminPort
			}
			if flags.Changed("cert") || flags.Changed("key") || flags.Changed("passphrase") {
				cfg.TLS = &config.TLSConfig{CertFile: certFile, KeyFile: keyFile, Passphrase: passphrase}
			}
			if flags.Changed("require-client-auth") || flags.Changed("ca-cert") {
				cfg.MTLS = &config.MTLSConfig{
					Enabled:    requireClientAuth,
					CACertFile: caCertFile,
					Passphrase: caPassphrase,
				}
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-json") {
				cfg.LogJSON = logJSON
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return RunServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to yaml config file")
	cmd.Flags().StringVar(&bindAddress, "bind", "", "interface to listen on")
	cmd.Flags().IntVar(&httpsPort, "https-port", 8443, "TCP port for the TLS listener")
	cmd.Flags().IntVar(&adminPort, "admin-port", 8442, "port for the admin API (0 = disabled)")
	cmd.Flags().StringVar(&certFile, "cert", "", "server identity material (PEM or PKCS#12)")
	cmd.Flags().StringVar(&keyFile, "key", "", "private key file when split from --cert")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the identity material")
	cmd.Flags().StringVar(&caCertFile, "ca-cert", "", "client trust anchor material")
	cmd.Flags().StringVar(&caPassphrase, "ca-passphrase", "", "passphrase for the trust material")
	cmd.Flags().BoolVar(&requireClientAuth, "require-client-auth", false, "require and verify client certificates")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "log in JSON format")

	return cmd
}

// RunServe starts the TLS endpoint and the admin API, then blocks until the
// context is cancelled or a termination signal arrives. Startup errors
// (bad material, failed bind) abort before anything is left listening.
func RunServe(ctx context.Context, cfg *config.ServerConfiguration) error {
	log := logging.New(logging.Config{
		Level: logging.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	// All material is loaded before any socket is opened.
	var identityMaterial keystore.Material
	if cfg.TLS != nil {
		identityMaterial = keystore.Material{
			CertFile:   cfg.TLS.CertFile,
			KeyFile:    cfg.TLS.KeyFile,
			Passphrase: cfg.TLS.Passphrase,
		}
	}
	identity, err := keystore.Load(identityMaterial)
	if err != nil {
		return err
	}

	var anchors *keystore.TrustAnchorSet
	requireClientAuth := cfg.MTLS != nil && cfg.MTLS.Enabled
	if requireClientAuth {
		anchors, err = keystore.LoadTrustAnchors(keystore.Material{
			CertFile:   cfg.MTLS.CACertFile,
			Passphrase: cfg.MTLS.Passphrase,
		})
		if err != nil {
			return err
		}
	}

	registry := stub.NewRegistry()
	for _, s := range cfg.Stubs {
		if _, err := registry.Register(s); err != nil {
			return fmt.Errorf("register stub %s %s: %w", s.Method, s.Path, err)
		}
	}

	var injectorOpts []fault.Option
	injectorOpts = append(injectorOpts, fault.WithLogger(log))
	if cfg.Fault != nil && cfg.Fault.RandomDataLength > 0 {
		injectorOpts = append(injectorOpts, fault.WithRandomDataLength(cfg.Fault.RandomDataLength))
	}

	endpoint, err := server.New(server.Config{
		BindAddress:       cfg.BindAddress,
		Port:              cfg.HTTPSPort,
		Identity:          identity,
		TrustAnchors:      anchors,
		RequireClientAuth: requireClientAuth,
		ReadTimeout:       config.ParseTimeout(cfg.ReadTimeout, server.DefaultReadTimeout),
		WriteTimeout:      config.ParseTimeout(cfg.WriteTimeout, server.DefaultWriteTimeout),
	}, registry,
		server.WithLogger(log),
		server.WithInjector(fault.NewInjector(injectorOpts...)))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := endpoint.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var adminSrv *http.Server
	if cfg.AdminPort > 0 {
		adminSrv = &http.Server{
			Addr:              net.JoinHostPort(cfg.BindAddress, fmt.Sprintf("%d", cfg.AdminPort)),
			Handler:           admin.NewAPI(registry, log).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("admin api listening", "addr", adminSrv.Addr)
			if err := adminSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		var errs []error
		if adminSrv != nil {
			errs = append(errs, adminSrv.Shutdown(shutdownCtx))
		}
		errs = append(errs, endpoint.Stop(shutdownCtx))
		return errors.Join(errs...)
	})

	return g.Wait()
}
