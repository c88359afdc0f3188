package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/edgegate/internal/model"
)

var statReq model.StatRequest

var statsCmd = &cobra.Command{
	Use:   "stats <device-id>",
	Short: "Fetch interface or tunnel statistics from the controller",
	Long: `Fetch a normalized statistics series for one device.

Examples:
  edgegate stats 10.1.1.1
  edgegate stats 10.1.1.1 --metric tunnel --interval 1hr --range "last 7 days"
  edgegate stats 10.1.1.1 --interface ge0/0 --range "last 3 hours"`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

func init() {
	f := statsCmd.Flags()
	f.StringVarP(&statReq.Metric, "metric", "m", "interface", "metric: interface or tunnel")
	f.StringVarP(&statReq.Interval, "interval", "i", "5min", "aggregation interval: 5min, 1hr or 1day")
	f.StringVarP(&statReq.TimeRange, "range", "r", "", "time range, e.g. \"last 3 hours\" (default last 24 hours)")
	f.StringVar(&statReq.Interface, "interface", "", "only this interface")
	f.StringVar(&statReq.Color, "color", "", "only tunnels of this color")
	f.StringVar(&statReq.RemoteIP, "remote", "", "only tunnels to this remote system IP")
}

func runStats(cmd *cobra.Command, args []string) error {
	req := statReq
	req.DeviceID = args[0]
	q, err := req.Query(time.Now())
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireController(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	series, err := a.stats.Fetch(ctx, q)
	if err != nil {
		return err
	}

	records := series.Records()
	if jsonOut {
		return printJSON(map[string]interface{}{"query": q, "series": series, "records": records})
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%s %s stats (%s)", q.DeviceID, q.Metric, q.Interval)))
	printField("Range", fmt.Sprintf("%s .. %s", q.Range.Start.Format(time.RFC3339), q.Range.End.Format(time.RFC3339)))
	printField("Shape", series.Shape)
	printField("Points", len(series.Points))
	fmt.Println()
	for _, r := range records {
		fmt.Println(formatRecord(r))
	}
	return nil
}

// formatRecord prints the timestamp first and the remaining keys sorted.
func formatRecord(r map[string]interface{}) string {
	keys := make([]string, 0, len(r))
	for k := range r {
		if k != "timestamp" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	if ts, ok := r["timestamp"]; ok {
		parts = append(parts, headerStyle.Render(fmt.Sprint(ts)))
	}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", labelStyle.Render(k), r[k]))
	}
	return strings.Join(parts, "  ")
}
