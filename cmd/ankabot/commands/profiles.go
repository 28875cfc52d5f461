package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mischamarty/ankabot/internal/output"
	"github.com/mischamarty/ankabot/internal/profile"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List saved session profiles",
	RunE:  runProfilesList,
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one session profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesShow,
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesShowCmd)
}

func runProfilesList(cmd *cobra.Command, _ []string) error {
	store := profile.NewStore(viper.GetString("profiles_dir"))

	names, err := store.List()
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "no saved profiles in", store.Dir())
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runProfilesShow(cmd *cobra.Command, args []string) error {
	store := profile.NewStore(viper.GetString("profiles_dir"))

	saved, err := store.Exists(args[0])
	if err != nil {
		return err
	}
	if !saved {
		return fmt.Errorf("profile %q is not saved (see %s)", args[0], store.Dir())
	}

	prof, err := store.Load(args[0])
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	writer, err := output.NewWriter(os.Stdout, output.FormatJSON, output.WithPretty(true))
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close() }()

	return writer.Write(prof)
}
