package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"ocrpipe/internal/profile"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the document profiles",
	Example: `  ocrpipe profiles
  ocrpipe profiles --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		all := profile.All()

		if jsonOutput {
			data, err := json.MarshalIndent(all, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to create JSON output: %w", err)
			}
			_, err = os.Stdout.Write(append(data, '\n'))
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROFILE\tPSM\tLANGUAGES\tDESKEW\tDENOISE\tDESCRIPTION")
		for _, p := range all {
			fmt.Fprintf(w, "%s\t%d\t%s\t%v\t%d\t%s\n",
				p.Kind, p.OCR.PSM, p.OCR.Languages, p.Preprocessing.EnableDeskew,
				p.Preprocessing.DenoiseStrength, p.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)

	profilesCmd.Flags().Bool("json", false, "Output the full profiles as JSON")
}
