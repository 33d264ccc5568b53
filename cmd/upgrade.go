package cmd

import (
	"fmt"
	"strings"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/gitpod-io/satchel/pkg/satchel/tools"
)

// upgradeCmd represents the upgrade command
var upgradeCmd = &cobra.Command{
	Use:   "upgrade [tool...]",
	Short: "Upgrades the tools satchel installed into its cache",
	Long: `Upgrades the tools satchel downloaded and manages in its cache (e.g. the JDK or the Android SDK).
Without arguments every managed tool is upgraded. Tools found on the system are never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listOnly, _ := cmd.Flags().GetBool("list")

		cache, err := tools.NewCache(tools.DefaultCacheDir())
		if err != nil {
			return err
		}
		reg := tools.NewRegistry(cache, nil)

		managed, err := reg.Managed(args...)
		if err != nil {
			return err
		}
		if len(managed) == 0 && len(args) == 0 {
			fmt.Println("satchel is not managing any tools.")
			return nil
		}
		if listOnly {
			printManagedTools(managed)
			return nil
		}

		upgraded, err := reg.Upgrade(cmd.Context(), args...)
		if err != nil {
			return err
		}
		printManagedTools(upgraded)
		return nil
	},
}

func printManagedTools(managed []tools.ManagedTool) {
	for _, m := range managed {
		status := color.Green.Render("up to date")
		if !m.UpToDate() {
			status = color.Yellow.Render("upgrade to " + m.Current)
		}
		fmt.Printf(" - %s %s (%s)\n", m.Name, strings.Join(m.Installed, ", "), status)
	}
}

func init() {
	upgradeCmd.Flags().BoolP("list", "l", false, "list the managed tools instead of upgrading them")
	rootCmd.AddCommand(upgradeCmd)
}
