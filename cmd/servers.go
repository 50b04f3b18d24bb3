package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/iksnae/claude-relay/internal"
	"github.com/spf13/cobra"
)

var (
	serverAlias string
	serverLocal bool
	serverHost  string
	serverUser  string
	serverPort  int
	serverKey   string
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage the server registry",
	Long: `List, add or remove the execution hosts sessions can be dispatched to.

Changes are written atomically and picked up by a running 'claude-relay serve'
without a restart.`,
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List declared servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := relayPaths()
		if err != nil {
			return err
		}
		registry, err := internal.LoadRegistry(paths.ConfigPath)
		if err != nil {
			return err
		}
		displayServers(cmd.OutOrStdout(), registry.Servers())
		return nil
	},
}

var serversAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Declare a server",
	Long: `Declare an execution host. Use --local for the machine running the hub
(at most one), or --host/--user/--key for a host reached over SSH.

Examples:
  claude-relay servers add kr4 --local --alias Workstation
  claude-relay servers add gpu1 --host 10.0.0.5 --user ops --key ~/.ssh/id_ed25519`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := serverEntryFromFlags(args[0])
		if err != nil {
			return err
		}

		paths, err := relayPaths()
		if err != nil {
			return err
		}

		if _, statErr := os.Stat(paths.ConfigPath); errors.Is(statErr, os.ErrNotExist) {
			cfg := &internal.RegistryConfig{Servers: []internal.ServerEntry{entry}}
			if err := internal.WriteRegistry(paths.ConfigPath, cfg); err != nil {
				return err
			}
			internal.PrintSuccess(fmt.Sprintf("Created %s with server %s", paths.ConfigPath, entry.ID))
			return nil
		}

		registry, err := internal.LoadRegistry(paths.ConfigPath)
		if err != nil {
			return err
		}
		if err := registry.AddServer(entry); err != nil {
			return err
		}
		internal.PrintSuccess(fmt.Sprintf("Added server %s (%s)", entry.ID, entry.Type))
		return nil
	},
}

var serversRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a server",
	Long: `Remove a server from the registry. Its recorded sessions are kept, but
commands addressed to them are refused until the server is declared again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := relayPaths()
		if err != nil {
			return err
		}
		registry, err := internal.LoadRegistry(paths.ConfigPath)
		if err != nil {
			return err
		}
		if err := registry.RemoveServer(args[0]); err != nil {
			return err
		}
		internal.PrintSuccess(fmt.Sprintf("Removed server %s", args[0]))
		return nil
	},
}

func serverEntryFromFlags(id string) (internal.ServerEntry, error) {
	entry := internal.ServerEntry{ID: id, Alias: serverAlias}
	switch {
	case serverLocal && serverHost != "":
		return entry, fmt.Errorf("--local and --host are mutually exclusive")
	case serverLocal:
		entry.Type = internal.ServerLocal
	case serverHost != "":
		entry.Type = internal.ServerRemote
		entry.Hostname = serverHost
		entry.SSH = &internal.SSHConfig{User: serverUser, Port: serverPort, KeyPath: serverKey}
	default:
		return entry, fmt.Errorf("either --local or --host is required")
	}
	return entry, nil
}

func displayServers(w io.Writer, servers []internal.ServerEntry) {
	if len(servers) == 0 {
		fmt.Fprintln(w, headerStyle.Render("🖥  No servers declared"))
		fmt.Fprintln(w, idStyle.Render("💡 Tip: claude-relay servers add <id> --local"))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("🖥  %d server(s)", len(servers))))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(tw, titleStyle.Render("ID")+"\t"+titleStyle.Render("Alias")+"\t"+titleStyle.Render("Type")+"\t"+titleStyle.Render("Target")+"\t")
	_, _ = fmt.Fprintln(tw, strings.Repeat("─", 70))
	for _, s := range servers {
		target := dateStyle.Render("this machine")
		if s.Type == internal.ServerRemote {
			user := ""
			if s.SSH != nil {
				user = s.SSH.User + "@"
			}
			target = user + s.SSHAddress()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n",
			addressStyle.Render(s.ID),
			projectStyle.Render(s.DisplayName()),
			string(s.Type),
			target,
		)
	}
	_ = tw.Flush()
}

func init() {
	rootCmd.AddCommand(serversCmd)
	serversCmd.AddCommand(serversListCmd, serversAddCmd, serversRemoveCmd)

	serversAddCmd.Flags().StringVar(&serverAlias, "alias", "", "Display name used in notifications")
	serversAddCmd.Flags().BoolVar(&serverLocal, "local", false, "Run commands on this machine")
	serversAddCmd.Flags().StringVar(&serverHost, "host", "", "SSH hostname or address")
	serversAddCmd.Flags().StringVar(&serverUser, "user", "", "SSH user")
	serversAddCmd.Flags().IntVar(&serverPort, "port", 22, "SSH port")
	serversAddCmd.Flags().StringVar(&serverKey, "key", "", "SSH private key path (~/ allowed)")
}
