package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"adpilot/internal/gads"
	"adpilot/internal/snapshot"
)

func newSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Capture an immutable snapshot of the configured account surfaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := gads.NewClient(cfg)

			var sources []snapshot.Source
			for _, surface := range cfg.Snapshot.Surfaces {
				switch surface {
				case snapshot.SurfaceAds:
					sources = append(sources, &gads.AdsSource{Client: client})
				case snapshot.SurfacePMax:
					sources = append(sources, &gads.PMaxSource{Client: client})
				case snapshot.SurfaceMerchant:
					sources = append(sources, &gads.MerchantSource{Client: client})
				default:
					return exitError(3, "unknown snapshot surface %q", surface)
				}
			}

			capturer := &snapshot.Capturer{
				Root:       cfg.Snapshot.Root,
				CustomerID: cfg.Ads.CustomerID,
				MerchantID: cfg.Merchant.MerchantID,
				Sources:    sources,
			}
			manifest, dir, err := capturer.Capture(cmd.Context())
			if err != nil {
				return exitError(3, "snapshot capture failed: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s captured: %s\n", manifest.SnapshotID, dir)
			return nil
		},
	}
}
