// Command triviad runs a zktrivia sequencer node with its local
// computation engine.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tolelom/zktrivia/config"
	"github.com/tolelom/zktrivia/wallet"
)

var version = "dev"

// passwordEnv holds the keystore password (not a flag: flags leak via ps).
const passwordEnv = "TRIVIAD_PASSWORD"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "triviad",
		Short:         "Trivia games scored over secret-shared answers.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       version,
	}
	root.CompletionOptions.HiddenDefaultCmd = true
	root.SetVersionTemplate("triviad {{.Version}}\n")
	root.AddCommand(newStartCmd(), newKeygenCmd(), newVersionCmd())
	return root
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the sequencer, the local engine and the RPC server",
		Args:  cobra.NoArgs,
	}
	config.RegisterFlags(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(config.NewViper(), cmd.Flags())
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return runNode(cmd.Context(), cfg, os.Getenv(passwordEnv))
	}
	return cmd
}

func newKeygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an encrypted key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := wallet.SaveKey(out, os.Getenv(passwordEnv), w.PrivKey()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "public key: %s\nsaved to:   %s\n", w.PubKey(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "triviad.key", "keystore file to write")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "triviad %s\n", version)
		},
	}
}
