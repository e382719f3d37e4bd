package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evmtools/abiget/etherscan"
)

var rootCmd = &cobra.Command{
	Use:   "abiget",
	Short: "Fetch verified contract ABIs from Etherscan and inspect their events",
}

func init() {
	rootCmd.PersistentFlags().String("api-key", "", "Etherscan API key (default $ETHERSCAN_API_KEY)")
	rootCmd.PersistentFlags().String("api-url", etherscan.DefaultBaseURL, "Etherscan API base URL (or $ETHERSCAN_API_URL)")
	rootCmd.PersistentFlags().String("rpc-url", "", "Ethereum RPC endpoint used for proxy resolution (or $ETH_RPC_URL)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	serveCmd.Flags().String("listen", ":8080", "Address to serve HTTP on")
	eventsCmd.Flags().Bool("select", false, "Interactively pick one event and print its topic0")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(serveCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <address>",
	Short: "Print the ABI of a verified contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := buildClient(cmd)
		if err != nil {
			return err
		}
		abi, err := client.RawABI(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), abi)
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <address>",
	Short: "List a contract's events with their topic0 selectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := buildClient(cmd)
		if err != nil {
			return err
		}
		doc, err := client.GetABI(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		events := doc.Events()

		interactive, _ := cmd.Flags().GetBool("select")
		if interactive {
			selector := &EventSelector{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
			ev, err := selector.Select(events)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Selected event: %s, topic0: %s\n", ev.Name, ev.ID().Hex())
			return nil
		}

		for _, ev := range events {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ev.ID().Hex(), ev.Signature())
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve ABI lookups over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, logger, err := buildClient(cmd)
		if err != nil {
			return err
		}
		rpcURL := stringFlagOrEnv(cmd, "rpc-url", "ETH_RPC_URL")
		listen, _ := cmd.Flags().GetString("listen")

		srv := newServer(client, rpcURL, logger)
		return srv.router().Run(listen)
	},
}

func buildClient(cmd *cobra.Command) (*etherscan.Client, *zap.Logger, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	logger, err := newLogger(debug)
	if err != nil {
		return nil, nil, err
	}

	opts := []etherscan.Option{etherscan.WithLogger(logger)}
	if apiKey, _ := cmd.Flags().GetString("api-key"); apiKey != "" {
		opts = append(opts, etherscan.WithAPIKey(apiKey))
	}
	if apiURL := stringFlagOrEnv(cmd, "api-url", "ETHERSCAN_API_URL"); apiURL != "" {
		opts = append(opts, etherscan.WithBaseURL(apiURL))
	}
	return etherscan.New(opts...), logger, nil
}

// stringFlagOrEnv prefers an explicitly set flag, then the environment, then
// the flag's default.
func stringFlagOrEnv(cmd *cobra.Command, flag, env string) string {
	if cmd.Flags().Changed(flag) {
		value, _ := cmd.Flags().GetString(flag)
		return value
	}
	if value := os.Getenv(env); value != "" {
		return value
	}
	value, _ := cmd.Flags().GetString(flag)
	return value
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
