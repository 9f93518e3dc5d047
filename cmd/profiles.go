package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/docflow/internal/catalog"
)

var (
	profilesPrefix   string
	profilesVersions bool
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List available extraction profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "profiles")
		if err != nil {
			return err
		}
		defer env.Close()

		descs, err := env.Catalog.List(cmd.Context(), profilesPrefix, profilesVersions)
		if err != nil {
			return eris.Wrap(err, "list profiles")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	},
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Show one resolved profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "profiles")
		if err != nil {
			return err
		}
		defer env.Close()

		base, version := catalog.SplitVersion(args[0])
		profile, err := env.Catalog.Resolve(cmd.Context(), base, version)
		if err != nil {
			return eris.Wrapf(err, "resolve %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

func init() {
	profilesCmd.Flags().StringVar(&profilesPrefix, "prefix", "", "restrict listing to paths under this prefix")
	profilesCmd.Flags().BoolVar(&profilesVersions, "versions", false, "include all versions, not just the latest")
	profilesCmd.AddCommand(profilesShowCmd)
	rootCmd.AddCommand(profilesCmd)
}
