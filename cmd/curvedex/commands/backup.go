package commands

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shizukutanaka/curvedex/internal/app"
	"github.com/shizukutanaka/curvedex/internal/backup"
	"github.com/shizukutanaka/curvedex/internal/dex"
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list and restore ledger snapshots",
	Long: `Snapshots are engine independent: a snapshot taken from a bolt ledger can be
restored into sqlite or postgres. 'curvedex serve' takes them on a schedule
when backup.enabled is set.`,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the local ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMarket(func(ctx context.Context, market *dex.Market) error {
			target, keep, err := backupTarget(cmd)
			if err != nil {
				return err
			}
			info, manifest, err := backup.Take(ctx, market, target)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s (%d entries, %s)\n", info.Path, manifest.Entries, humanize.Bytes(uint64(info.Size)))

			removed, err := target.Prune(keep)
			for _, name := range removed {
				fmt.Fprintf(out, "Pruned %s\n", name)
			}
			return err
		})
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _, err := backupTarget(cmd)
		if err != nil {
			return err
		}
		list, err := target.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintf(out, "No snapshots in %s\n", target.Dir())
			return nil
		}
		for _, b := range list {
			fmt.Fprintf(out, "%-50s %10s  %s\n", b.Name, humanize.Bytes(uint64(b.Size)), humanize.Time(b.Created))
		}
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <snapshot>",
	Short: "Load a snapshot into the configured, empty store",
	Long: `Load a snapshot into the store named by the configuration. The store must
not hold a market yet; nothing is written unless the whole snapshot verifies.
<snapshot> is a file name in the backup directory or a path.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _, err := backupTarget(cmd)
		if err != nil {
			return err
		}

		manager, factory, err := loadConfig(false)
		if err != nil {
			return err
		}
		defer factory.Sync()

		r, err := target.Open(args[0])
		if err != nil {
			return err
		}
		defer r.Close()

		ctx := context.Background()
		store, _, err := app.OpenStore(ctx, factory.Logger(), manager.Get().Storage)
		if err != nil {
			return err
		}
		defer store.Close()

		manifest, err := backup.Restore(ctx, store, r)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restored %d entries from a snapshot taken %s\n",
			manifest.Entries, manifest.Created.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.PersistentFlags().String("dir", "", "Backup directory (default from config)")
	backupCreateCmd.Flags().Int("keep", -1, "Snapshots to keep after pruning (default from config, 0 keeps all)")
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd)
}

// backupTarget resolves the backup directory and retention from flags,
// falling back to the config file.
func backupTarget(cmd *cobra.Command) (*backup.LocalTarget, int, error) {
	manager, err := readConfig()
	if err != nil {
		return nil, 0, err
	}
	cfg := manager.Get().Backup

	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.Dir
	}
	keep := cfg.Keep
	if cmd.Flags().Lookup("keep") != nil {
		if k, _ := cmd.Flags().GetInt("keep"); k >= 0 {
			keep = k
		}
	}
	return backup.NewLocalTarget(dir), keep, nil
}
