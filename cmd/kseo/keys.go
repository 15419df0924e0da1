package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/kseo/auth"
	"github.com/hazyhaar/kseo/config"
	"github.com/hazyhaar/kseo/keyring"
	"github.com/hazyhaar/kseo/kseosafe"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen [key-id]",
	Short: "Print a fresh 32-byte keyring entry (id:base64)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := time.Now().UTC().Format("k20060102")
		if len(args) == 1 {
			id = args[0]
		}
		if err := kseosafe.ValidateIdentifier(id); err != nil {
			return err
		}
		k := make([]byte, keyring.KeySize)
		if _, err := rand.Read(k); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", id, base64.StdEncoding.EncodeToString(k))
		return nil
	},
}

func requireKeyring() (*keyring.Keyring, error) {
	k, err := loadKeyring(cfg, logger)
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, errors.New("no keyring configured (set keyring.keys or KSEO_KEYRING)")
	}
	return k, nil
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt stdin into an enc: value for the config file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		k, err := requireKeyring()
		if err != nil {
			return err
		}
		data, err := kseosafe.LimitedReadAll(cmd.InOrStdin(), 64<<10)
		if err != nil {
			return err
		}
		sealed, err := k.Encrypt([]byte(strings.TrimRight(string(data), "\r\n")))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), config.EncPrefix+sealed)
		return nil
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt an envelope read from stdin",
	RunE: func(cmd *cobra.Command, _ []string) error {
		k, err := requireKeyring()
		if err != nil {
			return err
		}
		data, err := kseosafe.LimitedReadAll(cmd.InOrStdin(), 64<<10)
		if err != nil {
			return err
		}
		s := strings.TrimPrefix(strings.TrimSpace(string(data)), config.EncPrefix)
		pt, err := k.Decrypt(s)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(pt))
		return nil
	},
}

var tokenFlags struct {
	user  string
	role  string
	scope string
	ttl   time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed JWT for an operator or integration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if tokenFlags.user == "" {
			return errors.New("--user is required")
		}
		secret := cfg.Auth.JWTSecret
		if strings.HasPrefix(secret, config.EncPrefix) {
			k, err := requireKeyring()
			if err != nil {
				return err
			}
			cfg.RevealSecrets(k)
			secret = cfg.Auth.JWTSecret
		}
		tok, err := auth.GenerateToken([]byte(secret), &auth.Claims{
			UserID: tokenFlags.user,
			Role:   tokenFlags.role,
			Scope:  tokenFlags.scope,
		}, tokenFlags.ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyScope string

var apikeyCreateCmd = &cobra.Command{
	Use:   "create <label>",
	Short: "Create an API key; the plaintext is printed once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, st, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		plain, k, err := st.CreateAPIKey(cmd.Context(), args[0], apikeyScope)
		if err != nil {
			return err
		}
		auditCLI(cmd.Context(), db, "apikey_create", map[string]string{"id": k.ID, "label": k.Label, "scope": k.Scope}, nil)
		fmt.Fprintf(cmd.OutOrStdout(), "id:    %s\nlabel: %s\nscope: %s\nkey:   %s\n", k.ID, k.Label, k.Scope, plain)
		fmt.Fprintln(cmd.ErrOrStderr(), "Store the key now, it cannot be shown again.")
		return nil
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke an API key by id or id prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, st, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		err = st.RevokeAPIKey(cmd.Context(), args[0])
		auditCLI(cmd.Context(), db, "apikey_revoke", map[string]string{"id": args[0]}, err)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "revoked")
		return nil
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, st, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		keys, err := st.ListAPIKeys(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLABEL\tSCOPE\tSTATUS\tLAST USED")
		for _, k := range keys {
			last := "-"
			if k.LastUsedAt > 0 {
				last = time.UnixMilli(k.LastUsedAt).UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Label, k.Scope, k.Status, last)
		}
		return w.Flush()
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenFlags.user, "user", "", "user id")
	tokenCmd.Flags().StringVar(&tokenFlags.role, "role", "operator", "role claim")
	tokenCmd.Flags().StringVar(&tokenFlags.scope, "scope", "api", "scope claim")
	tokenCmd.Flags().DurationVar(&tokenFlags.ttl, "ttl", 24*time.Hour, "token lifetime")

	apikeyCreateCmd.Flags().StringVar(&apikeyScope, "scope", "api", "key scope")
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyRevokeCmd, apikeyListCmd)

	rootCmd.AddCommand(keygenCmd, encryptCmd, decryptCmd, tokenCmd, apikeyCmd)
}
