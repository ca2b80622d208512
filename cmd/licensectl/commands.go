package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/app"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/codec"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/config"
	lerrors "github.com/christian-schlichtherle/truelicense-sub000/internal/errors"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/infrastructure"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/license"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/security"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
)

// cli carries the state shared by the subcommands
type cli struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "licensectl",
		Short:         "Generate, install and verify license keys",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "configuration file (YAML)")

	root.AddCommand(
		c.generateCommand(),
		c.installCommand(),
		c.viewCommand(),
		c.verifyCommand(),
		c.uninstallCommand(),
		c.serveCommand(),
		keygenCommand(),
	)
	return root
}

// setup loads the configuration and the logger. It runs per command
// because keygen needs neither.
func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.cfg, c.logger = cfg, logger
	return nil
}

// withManagers runs fn with managers built from the configuration
func (c *cli) withManagers(fn func(*app.Managers) error) error {
	if err := c.setup(); err != nil {
		return err
	}
	metrics, err := license.DefaultMetrics()
	if err != nil {
		return err
	}
	m, err := app.NewManagers(c.cfg, c.logger, metrics)
	if err != nil {
		return err
	}
	defer m.Close()
	return publicError(fn(m))
}

// publicError keeps confidential causes out of the terminal; they are
// logged by the managers.
func publicError(err error) error {
	if err == nil || !lerrors.IsClassified(err) {
		return err
	}
	return errors.New(lerrors.PublicMessage(err))
}

func (c *cli) generateCommand() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "generate --out FILE [--in FILE]",
		Short: "Generate a license key from a license definition",
		Long: "Generate a license key. The definition file is JSON or YAML, chosen by\n" +
			"its extension. Unset fields are initialized with defaults.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bean := license.New()
			if in != "" {
				var err error
				if bean, err = readDefinition(in); err != nil {
					return err
				}
			}
			return c.withManagers(func(m *app.Managers) error {
				g, err := m.Vendor.GenerateKeyFrom(cmd.Context(), bean)
				if err != nil {
					return err
				}
				if _, err := g.SaveTo(cmd.Context(), store.NewFileStore(out)); err != nil {
					return err
				}
				l, err := g.License()
				if err != nil {
					return err
				}
				return printLicense(cmd, l)
			})
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "license definition (JSON or YAML)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "license key file to write")
	cmd.MarkFlagRequired("out")
	return cmd
}

func (c *cli) installCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install FILE",
		Short: "Install a license key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withManagers(func(m *app.Managers) error {
				if err := m.Consumer.Install(cmd.Context(), store.NewFileStore(args[0])); err != nil {
					return err
				}
				l, err := m.Consumer.Load(cmd.Context())
				if err != nil {
					return err
				}
				return printLicense(cmd, l)
			})
		},
	}
}

func (c *cli) viewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the installed license without validating it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withManagers(func(m *app.Managers) error {
				l, err := m.Consumer.Load(cmd.Context())
				if err != nil {
					return err
				}
				return printLicense(cmd, l)
			})
		},
	}
}

func (c *cli) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Validate the installed license",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withManagers(func(m *app.Managers) error {
				if err := m.Consumer.Verify(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "license for %q is valid\n", m.Consumer.Subject())
				return nil
			})
		},
	}
}

func (c *cli) uninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the license key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withManagers(func(m *app.Managers) error {
				if err := m.Consumer.Uninstall(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "license uninstalled")
				return nil
			})
		},
	}
}

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the consumer license REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			application, err := app.NewApplicationWithConfig(c.cfg, c.logger)
			if err != nil {
				return err
			}
			return application.Run()
		},
	}
}

func keygenCommand() *cobra.Command {
	var (
		alias, keyType, commonName, outDir, keyPassword string
		validity                                        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a vendor key pair as PEM key stores",
		Long: "Create a key pair with a self-signed certificate. private.pem holds the\n" +
			"key for the vendor, public.pem only the certificate for consumers.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keyPassword != "" {
				if err := (security.MinimumPolicy{}).Check([]byte(keyPassword)); err != nil {
					return err
				}
			}
			entry, err := security.GenerateEntry(alias, keyType, commonName, validity)
			if err != nil {
				return err
			}
			private, err := security.EncodePEM([]*security.Entry{entry}, true, []byte(keyPassword))
			if err != nil {
				return err
			}
			public, err := security.EncodePEM([]*security.Entry{entry}, false, nil)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(outDir, "private.pem"), private, 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(outDir, "public.pem"), public, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s key pair %q to %s\n", strings.ToUpper(keyType), alias, outDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&alias, "alias", security.DefaultAlias, "key store alias")
	cmd.Flags().StringVar(&keyType, "type", security.KeyTypeEC, "key type: EC, RSA or Ed25519")
	cmd.Flags().StringVar(&commonName, "cn", "License Vendor", "certificate common name")
	cmd.Flags().DurationVar(&validity, "validity", 10*365*24*time.Hour, "certificate validity")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "output directory")
	cmd.Flags().StringVar(&keyPassword, "key-password", "", "encrypt the private key with this password")
	return cmd
}

func readDefinition(path string) (*license.License, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c codec.Codec = codec.JSON{}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		c = codec.YAML{}
	}
	l := license.New()
	if err := codec.Unmarshal(c, data, l); err != nil {
		return nil, fmt.Errorf("failed to read license definition: %w", err)
	}
	return l, nil
}

func printLicense(cmd *cobra.Command, l *license.License) error {
	return codec.JSON{}.Encode(cmd.OutOrStdout(), l)
}
