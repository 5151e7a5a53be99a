package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/chronicle/internal/campaign"
	"github.com/kalambet/chronicle/internal/config"
	"github.com/kalambet/chronicle/internal/settings"
	"github.com/kalambet/chronicle/internal/suggest"
)

func splitNames(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func kindArg(s string) (campaign.Kind, error) {
	kind, err := campaign.ParseKind(s)
	if err != nil {
		return "", fmt.Errorf("unknown collection %q (valid: sessions, characters, locations, organizations, quests)", s)
	}
	return kind, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func contentTypeOf(path string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

// --- list / show ---

var listCmd = &cobra.Command{
	Use:   "list <collection>",
	Short: "List sessions, characters, locations, organizations or quests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/"+string(kind))
		if err != nil {
			return err
		}

		if kind == campaign.KindSessions {
			var sessions []campaign.Session
			if err := decodeJSON(resp, &sessions); err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions yet.")
				return nil
			}
			for _, s := range sessions {
				fmt.Println(sessionLine(s.Position, s.ID, s.Title, s.Active))
			}
			return nil
		}

		var records []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Race        string `json:"race"`
			Class       string `json:"class"`
			Type        string `json:"type"`
			Status      string `json:"status"`
			Appearances []int  `json:"appearances"`
		}
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Printf("No %s yet.\n", kind)
			return nil
		}
		for _, r := range records {
			fmt.Println(entityLine(r.ID, r.Name, []string{r.Race, r.Class, r.Type, r.Status}, r.Appearances))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <collection> <id>",
	Short: "Show one record as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/"+string(kind)+"/"+args[1])
		if err != nil {
			return err
		}
		var rec any
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		return printJSON(rec)
	},
}

// --- add / edit / rm ---

// fieldsFromFlags collects the record fields whose flags were given.
func fieldsFromFlags(cmd *cobra.Command) (map[string]any, error) {
	body := map[string]any{}
	for _, name := range []string{"name", "description", "title", "content", "race", "class", "type", "status"} {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			body[name] = v
		}
	}
	for _, name := range []string{"characters", "locations", "organizations"} {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			body[name] = splitNames(v)
		}
	}
	if cmd.Flags().Changed("active") {
		v, _ := cmd.Flags().GetBool("active")
		body["active"] = v
	}
	if cmd.Flags().Changed("day") {
		v, _ := cmd.Flags().GetInt("day")
		body["day"] = v
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("no fields given")
	}
	return body, nil
}

func addRecordFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "entity name")
	cmd.Flags().String("description", "", "description")
	cmd.Flags().String("title", "", "session title")
	cmd.Flags().String("content", "", "session text")
	cmd.Flags().String("characters", "", "comma-separated character names (sessions)")
	cmd.Flags().String("locations", "", "comma-separated location names (sessions)")
	cmd.Flags().String("organizations", "", "comma-separated organization names (sessions)")
	cmd.Flags().Bool("active", false, "mark the session active")
	cmd.Flags().Int("day", 0, "timeline position for a new session")
	cmd.Flags().String("race", "", "character race")
	cmd.Flags().String("class", "", "character class")
	cmd.Flags().String("type", "", "location or organization type")
	cmd.Flags().String("status", "", "quest status: active, completed, failed, paused")
}

var addCmd = &cobra.Command{
	Use:   "add <collection>",
	Short: "Create a record (master mode)",
	Long: `Create a record.

Examples:
  chronicle --master add characters --name Mira --race elfa --class ladra
  chronicle --master add sessions --title "Giornata 4" --characters "Mira,Kael" --day 2
  chronicle --master add quests --name "Il calice" --status paused`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireMaster(); err != nil {
			return err
		}
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		body, err := fieldsFromFlags(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/"+string(kind), body)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Created %s %s", kind, result["id"])
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <collection> <id>",
	Short: "Update fields of a record (master mode)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireMaster(); err != nil {
			return err
		}
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		body, err := fieldsFromFlags(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/api/"+string(kind)+"/"+args[1], body)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Updated %s %s", kind, args[1])
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "rm <collection> <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a record (master mode)",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireMaster(); err != nil {
			return err
		}
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/api/"+string(kind)+"/"+args[1])
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted %s %s", kind, args[1])
		return nil
	},
}

var reorderCmd = &cobra.Command{
	Use:   "reorder <from> <to>",
	Short: "Move a session to another timeline position (master mode)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireMaster(); err != nil {
			return err
		}
		from, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid position %q", args[0])
		}
		to, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid position %q", args[1])
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/timeline/reorder", map[string]int{"from": from, "to": to})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Moved day %d to day %d", from, to)
		return nil
	},
}

func init() {
	addRecordFlags(addCmd)
	addRecordFlags(editCmd)
}

// --- suggest / record ---

type importResult struct {
	Text       string              `json:"text"`
	Candidates []suggest.Candidate `json:"candidates"`
}

// readSession returns the session text from --text or --file. Files go
// through the server's import endpoint so PDF and HTML logs are supported.
func readSession(ctx context.Context, cmd *cobra.Command, client *apiClient) (importResult, error) {
	text, _ := cmd.Flags().GetString("text")
	file, _ := cmd.Flags().GetString("file")

	var res importResult
	switch {
	case text != "":
		resp, err := client.post(ctx, "/api/suggest", map[string]string{"text": text})
		if err != nil {
			return res, err
		}
		if err := decodeJSON(resp, &res); err != nil {
			return res, err
		}
		res.Text = text
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return res, fmt.Errorf("reading file: %w", err)
		}
		resp, err := client.send(ctx, http.MethodPost, "/api/timeline/import", contentTypeOf(file, data), bytes.NewReader(data))
		if err != nil {
			return res, err
		}
		if err := decodeJSON(resp, &res); err != nil {
			return res, err
		}
	default:
		return res, fmt.Errorf("one of --text or --file is required")
	}
	return res, nil
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Propose entity names found in a session text",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := readSession(cmd.Context(), cmd, client)
		if err != nil {
			return err
		}
		if len(res.Candidates) == 0 {
			fmt.Println("No candidates found.")
			return nil
		}
		for _, c := range res.Candidates {
			fmt.Printf("%-14s %s\n", colorize(colorCyan, string(c.Rule)), c.Name)
		}
		return nil
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a session and the entities it mentions (master mode)",
	Long: `Record a session and the entities it mentions.

Names passed with --characters, --locations and --organizations are linked to
the session; unknown names become new records. With --accept every suggested
candidate is added by its rule.

Examples:
  chronicle --master record --text "Incontrammo Mira a Borgo Nero" --characters Mira --locations "Borgo Nero"
  chronicle --master record --file giornata-3.pdf --accept`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireMaster(); err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := readSession(cmd.Context(), cmd, client)
		if err != nil {
			return err
		}

		draft := campaign.SessionDraft{Text: res.Text}
		draft.Title, _ = cmd.Flags().GetString("title")
		draft.SessionID, _ = cmd.Flags().GetString("session")
		for name, dst := range map[string]*[]string{
			"characters":    &draft.Characters,
			"locations":     &draft.Locations,
			"organizations": &draft.Organizations,
		} {
			v, _ := cmd.Flags().GetString(name)
			*dst = splitNames(v)
		}
		if accept, _ := cmd.Flags().GetBool("accept"); accept {
			for _, c := range res.Candidates {
				switch c.Rule {
				case suggest.RulePerson:
					draft.Characters = append(draft.Characters, c.Name)
				case suggest.RulePlace:
					draft.Locations = append(draft.Locations, c.Name)
				case suggest.RuleOrganization:
					draft.Organizations = append(draft.Organizations, c.Name)
				}
			}
		}

		resp, err := client.post(cmd.Context(), "/api/timeline/confirm", draft)
		if err != nil {
			return err
		}
		var s campaign.Session
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		printSuccess("Recorded day %d: %s", s.Position, s.Title)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{suggestCmd, recordCmd} {
		c.Flags().String("text", "", "session text")
		c.Flags().String("file", "", "session log file (text, markdown, html or pdf)")
	}
	recordCmd.Flags().String("title", "", "session title (default: Giornata N)")
	recordCmd.Flags().String("session", "", "add the names to this existing session")
	recordCmd.Flags().String("characters", "", "comma-separated character names")
	recordCmd.Flags().String("locations", "", "comma-separated location names")
	recordCmd.Flags().String("organizations", "", "comma-separated organization names")
	recordCmd.Flags().Bool("accept", false, "accept every suggested candidate")
}

// --- uploads ---

func upload(ctx context.Context, path, file string) (map[string]string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	client, err := newAPIClient()
	if err != nil {
		return nil, err
	}
	resp, err := client.send(ctx, http.MethodPut, path, contentTypeOf(file, data), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return nil, err
	}
	return result, nil
}

var avatarCmd = &cobra.Command{
	Use:   "avatar <character-id> <image>",
	Short: "Set a character portrait (master mode)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireMaster(); err != nil {
			return err
		}
		result, err := upload(cmd.Context(), "/api/characters/"+args[0]+"/avatar", args[1])
		if err != nil {
			return err
		}
		printSuccess("Avatar stored at %s", result["avatar"])
		return nil
	},
}

var mapCmd = &cobra.Command{
	Use:   "map <image>",
	Short: "Upload the campaign map (master mode)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireMaster(); err != nil {
			return err
		}
		result, err := upload(cmd.Context(), "/api/map", args[0])
		if err != nil {
			return err
		}
		printSuccess("Map stored at %s", result["map"])
		return nil
	},
}

// --- backup ---

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export or restore the whole campaign",
}

var backupExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the campaign backup as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/backup")
		if err != nil {
			return err
		}
		var doc json.RawMessage
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		var indented bytes.Buffer
		if err := json.Indent(&indented, doc, "", "  "); err != nil {
			return err
		}
		indented.WriteByte('\n')

		if output == "" {
			_, err := io.Copy(os.Stdout, &indented)
			return err
		}
		if err := os.WriteFile(output, indented.Bytes(), 0o600); err != nil {
			return fmt.Errorf("writing backup: %w", err)
		}
		printSuccess("Backup written to %s", output)
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Replace the campaign with a backup (master mode)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireMaster(); err != nil {
			return err
		}
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This replaces ALL campaign records. Use --confirm to proceed.")
			return nil
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading backup: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Restoring %s...", args[0])
		resp, err := client.send(cmd.Context(), http.MethodPost, "/api/backup", "application/json", bytes.NewReader(data))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Campaign restored")
		return nil
	},
}

func init() {
	backupExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	backupRestoreCmd.Flags().Bool("confirm", false, "confirm replacing the campaign")
	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupRestoreCmd)
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or update campaign settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show campaign settings as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/settings")
		if err != nil {
			return err
		}
		var s settings.Settings
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		return printJSON(s)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a campaign setting",
	Long:  "Set a campaign setting. Keys: " + strings.Join(settings.Keys, ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/api/settings", map[string]any{key: value})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <nickname>",
	Short: "Join the campaign under a nickname",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/api/settings", map[string]any{settings.KeyNickname: args[0]})
		if err != nil {
			return err
		}
		var s settings.Settings
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		printSuccess("Joined %s", s.Summary())
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
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
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
