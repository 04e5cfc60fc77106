package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var sessionsServerURL string

// sessionsCmd lists live sessions on a running server.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active sessions on a running server",
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsServerURL, "server", "http://localhost:5019", "Base URL of the running server")
}

func runSessions(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(sessionsServerURL + "/sessions")
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", sessionsServerURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var body struct {
		Sessions map[string]struct {
			State              string `json:"state"`
			ConversationLength int    `json:"conversation_length"`
			HasPendingDetails  bool   `json:"has_pending_details"`
			LastActivity       string `json:"last_activity"`
		} `json:"sessions"`
		TotalSessions int `json:"total_sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode server response: %w", err)
	}

	if body.TotalSessions == 0 {
		fmt.Println("No active sessions.")
		return nil
	}

	ids := make([]string, 0, len(body.Sessions))
	for id := range body.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("%-24s %-24s %6s %8s  %s\n", "SESSION", "STATE", "TURNS", "DRAFT", "LAST ACTIVITY")
	for _, id := range ids {
		s := body.Sessions[id]
		draft := "-"
		if s.HasPendingDetails {
			draft = "yes"
		}
		fmt.Printf("%-24s %-24s %6d %8s  %s\n", id, s.State, s.ConversationLength, draft, s.LastActivity)
	}
	return nil
}
