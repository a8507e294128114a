package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"plugd/internal/config"
)

type videoJSON struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Origin    string `json:"origin"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	CreatedAt string `json:"created_at"`
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Upload a video file or fetch one from a platform URL",
	Long: `Upload a video for analysis.

Examples:
  plugd upload ./talk.mp4
  plugd upload --url https://www.youtube.com/watch?v=dQw4w9WgXcQ`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")

		if (len(args) == 0) == (url == "") {
			return fmt.Errorf("provide either a file argument or --url")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		var resp *http.Response
		if url != "" {
			printStep("Fetching %s...", url)
			resp, err = client.post(ctx, "/videos/url", map[string]string{"url": url})
		} else {
			printStep("Uploading %s...", args[0])
			resp, err = client.postFile(ctx, "/videos", args[0])
		}
		if err != nil {
			return err
		}

		var video videoJSON
		if err := decodeJSON(resp, &video); err != nil {
			return err
		}

		printSuccess("Created session %s (%s)", video.ID, video.Status)
		printStep("Run 'plugd analyze %s' to analyze it", video.ID)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("url", "", "platform URL to download instead of a local file")
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <session-id>",
	Short: "Analyze an uploaded video (blocks until the summary is ready)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Analyzing %s (this can take a while)...", args[0])
		resp, err := client.post(cmd.Context(), "/videos/"+args[0]+"/analyze", nil)
		if err != nil {
			return err
		}

		var result struct {
			Summary string `json:"summary"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Analysis complete")
		fmt.Println(result.Summary)
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <session-id> <question...>",
	Short: "Ask a question about an analyzed video",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		question := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/videos/"+id+"/chat", map[string]string{"question": question})
		if err != nil {
			return err
		}

		var result struct {
			Answer string `json:"answer"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)
		return nil
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List video sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/videos")
		if err != nil {
			return err
		}

		var result struct {
			Videos []videoJSON `json:"videos"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Videos) == 0 {
			fmt.Println("No sessions.")
			return nil
		}

		for _, v := range result.Videos {
			line := fmt.Sprintf("%s  %-10s  %s", v.ID, v.Status, v.Origin)
			if v.Error != "" {
				line += "  (" + v.Error + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a video session and its stored media",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/videos/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(ansiBold, k.Key), k.Value)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
