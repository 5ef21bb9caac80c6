package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pgf-fleet/pgfgate/role"
)

var rolesJSON bool

var rolesCmd = &cobra.Command{
	Use:   "roles [ROLE]",
	Short: "Show which console sections each role may open",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roles := role.All
		if len(args) == 1 {
			r, err := role.Parse(args[0])
			if err != nil {
				return err
			}
			roles = []role.Role{r}
		}

		if rolesJSON {
			table := make(map[role.Role][]string, len(roles))
			for _, r := range roles {
				table[r] = r.Sections()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(table)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROLE\tSECTIONS")
		for _, r := range roles {
			fmt.Fprintf(tw, "%s\t%s\n", r, strings.Join(r.Sections(), ", "))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(rolesCmd)
	rolesCmd.Flags().BoolVar(&rolesJSON, "json", false, "Output as JSON")
}
