package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/feedveil/settings"
)

var errReadOnly = errors.New("settings are loaded from store.settings_file and cannot be edited")

func (a *app) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and edit the settings database",
	}
	cmd.AddCommand(a.settingsListCmd(), a.settingsGoalsCmd(), a.settingsSiteCmd())
	return cmd
}

func (a *app) dbStore() (*settings.DBStore, func(), error) {
	store, _, closeFn, err := a.settingsStore()
	if err != nil {
		return nil, nil, err
	}
	ds, ok := store.(*settings.DBStore)
	if !ok {
		closeFn()
		return nil, nil, errReadOnly
	}
	return ds, closeFn, nil
}

func (a *app) settingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the resolved profile of every stored site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds, closeFn, err := a.dbStore()
			if err != nil {
				return err
			}
			defer closeFn()
			profiles, err := ds.List(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(profiles)
		},
	}
}

func (a *app) settingsGoalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-goals <text>",
		Short: "Replace the global goals text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, closeFn, err := a.dbStore()
			if err != nil {
				return err
			}
			defer closeFn()
			return ds.SetGoals(cmd.Context(), args[0])
		},
	}
}

func (a *app) settingsSiteCmd() *cobra.Command {
	var (
		enabled    bool
		cutoff     float64
		preference string
	)
	cmd := &cobra.Command{
		Use:   "set-site <id>",
		Short: "Update a site's enable flag, cutoff or preference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, closeFn, err := a.dbStore()
			if err != nil {
				return err
			}
			defer closeFn()

			s, err := ds.Site(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("enabled") {
				s.Enabled = enabled
			}
			if f.Changed("cutoff") {
				s.Cutoff = cutoff
			}
			if f.Changed("preference") {
				s.Preference = preference
			}
			if err := ds.Put(cmd.Context(), s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: enabled=%t cutoff=%v\n", s.ID, s.Enabled, s.Cutoff)
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", true, "observe this site")
	cmd.Flags().Float64Var(&cutoff, "cutoff", settings.DefaultCutoff, "visibility cutoff 0-100")
	cmd.Flags().StringVar(&preference, "preference", "", "site preference appended to the goals")
	return cmd
}
