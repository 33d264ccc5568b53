package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/disiqueira/gotree"
	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

// platformsCmd represents the platforms command
var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "Lists the platforms and output formats satchel can build",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := getRegistry()
		if err != nil {
			return err
		}
		fmt.Println(platformTree(reg).Print())
		return nil
	},
}

// platformTree renders the registry. Formats that cannot be built on this host are marked.
func platformTree(reg *satchel.Registry) gotree.Tree {
	tree := gotree.New("platforms")
	for _, p := range reg.Platforms() {
		pn := tree.Add(p)
		def := reg.DefaultFormat(p)
		for _, f := range reg.Formats(p) {
			label := f
			if f == def {
				label += " (default)"
			}

			_, err := reg.Resolve(p, f)
			var hostErr *satchel.HostPlatformUnsupportedError
			if errors.As(err, &hostErr) {
				label += color.Gray.Render(fmt.Sprintf(" requires %s", strings.Join(hostErr.Supported, " or ")))
			}
			pn.Add(label)
		}
	}
	return tree
}

func init() {
	rootCmd.AddCommand(platformsCmd)
}
