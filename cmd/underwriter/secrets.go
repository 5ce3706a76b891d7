package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"underwriter/pkg/config"
)

func newSecretsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage encrypted model credentials",
	}
	cmd.AddCommand(newSecretsSetCmd(opts))
	return cmd
}

func newSecretsSetCmd(opts *rootOptions) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store the API key for a model provider (anthropic, openai, google, ollama)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := config.APIKeyEnv(args[0])
			if name == "" {
				return fmt.Errorf("unknown provider %q", args[0])
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			password, err := secretsPassword(!config.SecretsFileExists(cfg.Secrets.Dir))
			if err != nil {
				return err
			}
			if value == "" {
				if value, err = readPassword(name + ": "); err != nil {
					return err
				}
			}
			if value == "" {
				return errors.New("empty secret value")
			}

			if err := config.SetSecretInFile(cfg.Secrets.Dir, password, name, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s in %s\n", name, config.SecretsPath(cfg.Secrets.Dir))
			return nil
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "secret value (prompted when omitted)")
	return cmd
}

// secretsPassword takes the password from the environment or prompts for it,
// asking twice when a new secrets file is about to be created.
func secretsPassword(confirm bool) (string, error) {
	if password := os.Getenv(envPassword); password != "" {
		return password, nil
	}
	password, err := readPassword("Secrets password: ")
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", errors.New("empty password")
	}
	if confirm {
		again, err := readPassword("Confirm password: ")
		if err != nil {
			return "", err
		}
		if again != password {
			return "", errors.New("passwords do not match")
		}
	}
	return password, nil
}
