package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/mapsync/internal/api"
	"github.com/dgnsrekt/mapsync/internal/view"
)

type hubFlags struct {
	url        string
	apiKey     string
	timeout    time.Duration
	retryCount int
}

func (f *hubFlags) register(cmd *cobra.Command) {
	defaultURL := os.Getenv("MAPSYNC_HUB_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	cmd.Flags().StringVar(&f.url, "hub", defaultURL, "hub base URL (or set MAPSYNC_HUB_URL)")
	cmd.Flags().StringVar(&f.apiKey, "api-key", os.Getenv("MAPSYNC_API_KEY"), "hub API key (or set MAPSYNC_API_KEY)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "request timeout")
	cmd.Flags().IntVar(&f.retryCount, "retries", 3, "retries on rate limiting and server errors")
}

func (f *hubFlags) client() *api.HTTPClient {
	return api.NewClient(f.url, f.apiKey, 2, f.timeout, time.Second, f.retryCount, logger)
}

func publishCmd() *cobra.Command {
	var (
		hub       hubFlags
		group     string
		eventType string
		lat, lng  float64
		zoom      int
		bounds    string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Push a view to every endpoint of a group through the hub",
		Long: `Publish a view event through the hub REST API. Endpoints of the group apply
it as if another endpoint had moved.

Examples:
  # Centre every "lobby" map on Paris at zoom 12
  mapsync publish --group lobby --lat 48.85 --lng 2.35 --zoom 12

  # Fit every map to a bounding box (north,east,south,west)
  mapsync publish --group lobby --bounds 52,1,51,-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := stateFromFlags(cmd, lat, lng, zoom, bounds)
			if err != nil {
				return err
			}

			result, err := hub.client().PublishView(cmd.Context(), group, eventType, state)
			if err != nil {
				return fmt.Errorf("publishing view: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s (%d delivered)\n", result.ID, result.Topic, result.Delivered)
			return nil
		},
	}

	hub.register(cmd)
	cmd.Flags().StringVar(&group, "group", "default", "endpoint group")
	cmd.Flags().StringVar(&eventType, "event-type", "mapmove", "event type")
	cmd.Flags().Float64Var(&lat, "lat", 0, "centre latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "centre longitude")
	cmd.Flags().IntVar(&zoom, "zoom", 0, "zoom level")
	cmd.Flags().StringVar(&bounds, "bounds", "", "bounds as north,east,south,west")
	cmd.MarkFlagsMutuallyExclusive("bounds", "lat")
	cmd.MarkFlagsMutuallyExclusive("bounds", "zoom")

	return cmd
}

// stateFromFlags builds the view to publish. Bounds win when given; otherwise
// --zoom is required with the centre.
func stateFromFlags(cmd *cobra.Command, lat, lng float64, zoom int, bounds string) (view.State, error) {
	if bounds != "" {
		parts := strings.Split(bounds, ",")
		if len(parts) != 4 {
			return view.State{}, fmt.Errorf("--bounds needs north,east,south,west")
		}
		var v [4]float64
		for i, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return view.State{}, fmt.Errorf("invalid --bounds value %q", p)
			}
			v[i] = f
		}
		return view.BoundsState(view.NewBounds(v[0], v[1], v[2], v[3])), nil
	}
	if !cmd.Flags().Changed("zoom") {
		return view.State{}, fmt.Errorf("either --bounds or --zoom (with --lat/--lng) is required")
	}
	return view.CenterZoomState(view.LatLng{Lat: lat, Lng: lng}, zoom), nil
}

func topicsCmd() *cobra.Command {
	var hub hubFlags

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List the topics known to the hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			topics, err := hub.client().ListTopics(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing topics: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GROUP\tEVENT TYPE\tSUBSCRIBERS\tEVENTS\tLAST FROM\tLAST AT")
			for _, t := range topics {
				lastAt := "-"
				if t.LastAt != nil {
					lastAt = t.LastAt.Local().Format(time.DateTime)
				}
				lastFrom := t.LastFrom
				if lastFrom == "" {
					lastFrom = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", t.Group, t.EventType, t.Subscribers, t.Events, lastFrom, lastAt)
			}
			return w.Flush()
		},
	}

	hub.register(cmd)
	return cmd
}
