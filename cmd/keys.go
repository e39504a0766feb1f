package cmd

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"syscall"

	"github.com/dctoing3-dot/pandu/pandu"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader is a function type for reading secrets. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

// connectPool dials the credential store using the loaded config and
// returns a pool bound to it. CLI key management talks to Redis directly,
// without starting the bot.
func connectPool(cmd *cobra.Command) *pandu.KeyPool {
	store, err := pandu.NewStore(cfg.Redis)
	if err != nil {
		log.Fatalf("invalid redis config: %v", err)
	}
	if err := store.Connect(cmd.Context()); err != nil {
		log.Fatalf("error connecting to redis: %v", err)
	}
	return pandu.NewKeyPool(store, nil, cfg.HTTPClient)
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the provider API key pool",
}

var keysAddCmd = &cobra.Command{
	Use:   "add <provider>",
	Short: "Add an API key to a provider's pool",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		provider := strings.ToLower(args[0])
		out := cmd.OutOrStdout()

		if customPasswordReader == nil {
			customPasswordReader = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}
		fmt.Fprint(out, "Enter API key: ")
		keyBytes, err := customPasswordReader()
		fmt.Fprintln(out)
		if err != nil {
			log.Fatalf("error reading key: %v", err)
		}
		key := strings.TrimSpace(string(keyBytes))
		if key == "" {
			log.Fatal("empty key")
		}

		pool := connectPool(cmd)
		res := pool.AddAPIKey(cmd.Context(), provider, key)
		if !res.Success {
			log.Fatalf("error adding key: %s", res.Err)
		}
		fmt.Fprintf(out, "Added key to %s (%d in pool)\n", provider, res.Total)
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list <provider>",
	Short: "List a provider's pooled keys (masked)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		provider := strings.ToLower(args[0])
		pool := connectPool(cmd)
		keys := pool.Keys(cmd.Context(), provider)

		out := cmd.OutOrStdout()
		if len(keys) == 0 {
			fmt.Fprintf(out, "no keys stored for %s\n", provider)
			return
		}
		for i, k := range keys {
			fmt.Fprintf(
				out,
				"%d. %s\t%s\tusage=%d\n",
				i+1,
				pandu.MaskKey(k.Key),
				k.Status,
				k.Usage,
			)
		}
	},
}

var keysRemoveCmd = &cobra.Command{
	Use:   "remove <provider> <number>",
	Short: "Remove a key by its position in 'keys list'",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		provider := strings.ToLower(args[0])
		n, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("invalid number: %s", args[1])
		}

		pool := connectPool(cmd)
		res := pool.RemoveAPIKey(cmd.Context(), provider, n-1)
		if !res.Success {
			log.Fatalf("error removing key: %s", res.Err)
		}
		fmt.Fprintf(
			cmd.OutOrStdout(),
			"Removed key %d from %s (%d remaining)\n",
			n,
			provider,
			res.Total,
		)
	},
}

var keysStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-provider key pool counts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		pool := connectPool(cmd)
		status := pool.PoolStatus(cmd.Context())

		out := cmd.OutOrStdout()
		for provider, counts := range status {
			fmt.Fprintf(
				out,
				"%s\ttotal=%d active=%d standby=%d cooldown=%d\n",
				provider,
				counts.Total,
				counts.Active,
				counts.Standby,
				counts.Cooldown,
			)
		}
	},
}

//nolint:gochecknoinits
func init() {
	keysCmd.AddCommand(keysAddCmd, keysListCmd, keysRemoveCmd, keysStatusCmd)
	rootCmd.AddCommand(keysCmd)
}
