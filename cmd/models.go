package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/offerreco/reco-api/internal/configuration"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect model configurations",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered model forks",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := initRegistry(cfg)
		if err != nil {
			return err
		}
		return listForks(cmd.OutOrStdout(), reg)
	},
}

var modelsEncodeCmd = &cobra.Command{
	Use:   "encode NAME",
	Short: "Print the modelEndpoint override for a registered fork",
	Long:  "Prints the base64 JSON form of a fork. Edit the decoded JSON and re-encode it to try a configuration without deploying it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := initRegistry(cfg)
		if err != nil {
			return err
		}
		return encodeFork(cmd.OutOrStdout(), reg, args[0])
	},
}

// listForks writes one line per fork: name, kind, warm and cold configurations.
func listForks(w io.Writer, reg *configuration.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tWARM\tCOLD")
	for _, name := range reg.Names() {
		f, err := reg.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Name, f.Kind, f.Warm.Name, f.Cold.Name)
	}
	return tw.Flush()
}

func encodeFork(w io.Writer, reg *configuration.Registry, name string) error {
	f, err := reg.Get(name)
	if err != nil {
		return err
	}
	encoded, err := configuration.Encode(f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, encoded)
	return err
}

func init() {
	modelsCmd.AddCommand(modelsListCmd, modelsEncodeCmd)
	rootCmd.AddCommand(modelsCmd)
}
