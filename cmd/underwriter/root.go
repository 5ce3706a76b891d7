package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"underwriter/pkg/config"
	"underwriter/pkg/logx"
	"underwriter/pkg/version"
)

// envPassword supplies the secrets password without prompting.
const envPassword = "UNDERWRITER_PASSWORD"

type rootOptions struct {
	configFile string
	debug      bool
	logger     *logx.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{logger: logx.NewLogger("cli")}

	root := &cobra.Command{
		Use:     "underwriter",
		Short:   "Insurance underwriting orchestrator",
		Version: version.String(),
		Long: `underwriter routes insurance applications through customer, vehicle,
document and risk analysis tools, flags risky cases for human review and
produces a final underwriting report.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.debug {
				logx.SetDebug(true)
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML or JSON)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newProcessCmd(opts),
		newStatusCmd(opts),
		newSecretsCmd(opts),
	)
	return root
}

// loadConfig reads --config, or returns defaults when it is unset.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("Loaded config from %s", o.configFile)
	return cfg, nil
}

// unlockSecrets decrypts the secrets file into memory when one exists.
// Without a password in the environment or a terminal to prompt on, model
// credentials fall back to plain environment variables.
func (o *rootOptions) unlockSecrets(cfg *config.Config) error {
	if !config.SecretsFileExists(cfg.Secrets.Dir) {
		return nil
	}

	password := os.Getenv(envPassword)
	if password == "" {
		if !term.IsTerminal(syscall.Stdin) {
			o.logger.Warn("Secrets file %s present but %s is unset; using environment credentials",
				config.SecretsPath(cfg.Secrets.Dir), envPassword)
			return nil
		}
		var err error
		if password, err = readPassword("Secrets password: "); err != nil {
			return err
		}
	}

	secrets, err := config.DecryptSecretsFile(cfg.Secrets.Dir, password)
	if err != nil {
		return fmt.Errorf("failed to unlock secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	o.logger.Info("Loaded %d secrets from %s", len(secrets), config.SecretsPath(cfg.Secrets.Dir))
	return nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}
