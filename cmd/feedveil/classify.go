package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/feedveil/admin"
)

func (a *app) classifyCmd() *cobra.Command {
	var (
		req    admin.ClassifyRequest
		cutoff float64
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Score one item and print the probability and the action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("cutoff") {
				req.Cutoff = &cutoff
			}
			reg, err := a.cfg.Registry()
			if err != nil {
				return err
			}
			store, _, closeStore, err := a.settingsStore()
			if err != nil {
				return err
			}
			defer closeStore()
			gw, _, err := a.gateway()
			if err != nil {
				return err
			}

			svc := admin.New(admin.Options{Gateway: gw, Store: store, Registry: reg, Logger: a.logger})
			res, err := svc.Classify(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Site, "site", "youtube", "site adapter id")
	f.StringVar(&req.Title, "title", "", "item title or text")
	f.StringVar(&req.Author, "author", "", "item author or channel")
	f.StringVar(&req.Goals, "goals", "", "goals text (default: the site profile)")
	f.Float64Var(&cutoff, "cutoff", 0, "visibility cutoff 0-100 (default: the site profile)")
	return cmd
}
