package cli

import (
	"bufio"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/KafClaw/sysclaw/internal/config"
	"github.com/KafClaw/sysclaw/internal/secrets"
	"github.com/spf13/cobra"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage credentials in the encrypted vault",
	Long: "Credentials in the vault are exported as environment variables when the config loads.\n" +
		"Variables already set in the environment take precedence.",
}

var secretsSetCmd = &cobra.Command{
	Use:   "set <NAME> [value]",
	Short: "Store a credential (value read from stdin when omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		value := ""
		if len(args) == 2 {
			value = args[1]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no value given on stdin")
			}
			value = strings.TrimRight(line, "\r\n")
		}
		if err := v.Set(args[0], value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %s in %s\n", args[0], v.Path())
		return nil
	},
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		keys, err := v.Keys()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No credentials stored.")
			return nil
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete <NAME>",
	Short: "Remove a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		ok, err := v.Delete(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is not stored", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func openVault() (*secrets.Vault, error) {
	path, err := config.ConfigPath()
	if err != nil {
		return nil, err
	}
	return secrets.Open(filepath.Dir(path)), nil
}

func init() {
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsListCmd)
	secretsCmd.AddCommand(secretsDeleteCmd)
	rootCmd.AddCommand(secretsCmd)
}
