// Package client contains Cobra CLI commands for tidal.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewEventsCommand constructs the `events` command group and subcommands.
func NewEventsCommand(baseURL BaseURLFunc) *cobra.Command {
	eventsCmd := &cobra.Command{Use: "events", Short: "Event operations"}

	eventsCmd.AddCommand(
		newPublishCommand(baseURL),
		newTailCommand(baseURL),
		newReplayCommand(baseURL),
		newStatsCommand(baseURL),
	)

	return eventsCmd
}

func newPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event to a topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			typ, _ := cmd.Flags().GetString("type")
			payload, _ := cmd.Flags().GetString("payload")
			id, _ := cmd.Flags().GetString("id")

			body := map[string]any{"topic": topic, "type": typ}
			if id != "" {
				body["id"] = id
			}
			if json.Valid([]byte(payload)) {
				body["payload"] = json.RawMessage(payload)
			} else {
				body["payload"] = payload
			}
			out, err := newAPI(baseURL).do(cmd.Context(), http.MethodPost, "/v1/events/publish", nil, body)
			if err != nil {
				return err
			}
			printJSON(os.Stdout, out)
			return nil
		},
	}
	cmd.Flags().String("topic", "", "Topic name")
	cmd.Flags().String("type", "", "Event type, e.g. order.created")
	cmd.Flags().String("payload", "{}", "Payload (JSON or raw text)")
	cmd.Flags().String("id", "", "Client-supplied event id (optional)")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// newTailCommand streams events over SSE and prints one JSON object per
// delivered event. Ctrl-C stops the stream.
func newTailCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail topics over a live SSE stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			topics, _ := cmd.Flags().GetStringSlice("topic")
			cursor, _ := cmd.Flags().GetString("cursor")
			filter, _ := cmd.Flags().GetString("filter")
			if len(topics) == 0 {
				return fmt.Errorf("at least one --topic is required")
			}

			q := url.Values{}
			q.Set("topics", strings.Join(topics, ","))
			if cursor != "" {
				q.Set("cursor", cursor)
			}
			if filter != "" {
				q.Set("filter", filter)
			}

			a := newAPI(baseURL)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				a.base+"/v1/events/subscribe?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			if a.key != "" {
				req.Header.Set("Authorization", "Bearer "+a.key)
			}
			resp, err := a.hc.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				b, _ := io.ReadAll(resp.Body)
				return apiError(resp.StatusCode, b)
			}

			enc := json.NewEncoder(os.Stdout)
			sc := bufio.NewScanner(resp.Body)
			sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
			var lastID string
			for sc.Scan() {
				line := sc.Text()
				switch {
				case strings.HasPrefix(line, "id: "):
					lastID = strings.TrimPrefix(line, "id: ")
				case strings.HasPrefix(line, "data: "):
					var frame map[string]any
					if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
						continue
					}
					frame["cursor"] = lastID
					if err := enc.Encode(frame); err != nil {
						return err
					}
				}
			}
			if err := sc.Err(); err != nil && cmd.Context().Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("topic", nil, "Topic to tail (repeatable)")
	cmd.Flags().String("cursor", "", "Resume cursor (single topic only)")
	cmd.Flags().String("filter", "", "CEL filter expression")
	return cmd
}

func newReplayCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Page through retained history for a topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			cursor, _ := cmd.Flags().GetString("cursor")
			limit, _ := cmd.Flags().GetInt("limit")
			follow, _ := cmd.Flags().GetBool("all")

			a := newAPI(baseURL)
			enc := json.NewEncoder(os.Stdout)
			for {
				q := url.Values{}
				q.Set("topic", topic)
				if cursor != "" {
					q.Set("cursor", cursor)
				}
				if limit > 0 {
					q.Set("limit", strconv.Itoa(limit))
				}
				out, err := a.do(cmd.Context(), http.MethodGet, "/v1/events/replay", q, nil)
				if err != nil {
					return err
				}
				var page struct {
					Events       []json.RawMessage `json:"events"`
					Cursor       string            `json:"cursor"`
					EndOfHistory bool              `json:"end_of_history"`
				}
				if err := json.Unmarshal(out, &page); err != nil {
					return err
				}
				for _, ev := range page.Events {
					if err := enc.Encode(ev); err != nil {
						return err
					}
				}
				cursor = page.Cursor
				if !follow || page.EndOfHistory {
					if !page.EndOfHistory {
						fmt.Fprintln(os.Stderr, "next cursor:", cursor)
					}
					return nil
				}
			}
		},
	}
	cmd.Flags().String("topic", "", "Topic name")
	cmd.Flags().String("cursor", "", "Start cursor (empty starts at earliest retained)")
	cmd.Flags().Int("limit", 0, "Page size (server default when 0)")
	cmd.Flags().Bool("all", false, "Keep paging until end of history")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func newStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show topic stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			q := url.Values{}
			q.Set("topic", topic)
			out, err := newAPI(baseURL).do(cmd.Context(), http.MethodGet, "/v1/events/stats", q, nil)
			if err != nil {
				return err
			}
			printJSON(os.Stdout, out)
			return nil
		},
	}
	cmd.Flags().String("topic", "", "Topic name")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}
