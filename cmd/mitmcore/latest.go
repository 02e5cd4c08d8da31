package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devicefleet/mitmcore/internal/ipc"
	"github.com/devicefleet/mitmcore/internal/store"
)

var latestCmd = &cobra.Command{
	Use:   "latest <origin>",
	Short: "Print the latest proto of each type received from a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.NewDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		rows, err := (&store.LatestProtoRepo{}).ListByOrigin(cmd.Context(), db, args[0])
		if err != nil {
			return err
		}
		views := make([]ipc.LatestProtoView, 0, len(rows))
		for _, p := range rows {
			views = append(views, ipc.LatestProtoView{
				Key:               p.Key,
				TimestampRaw:      p.TimestampRaw,
				TimestampReceived: p.TimestampReceived,
				Lat:               p.Location.Lat,
				Lng:               p.Location.Lng,
				Payload:           p.Payload,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	},
}
