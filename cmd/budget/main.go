package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"budget-go/internal/app"
	"budget-go/internal/budget"
	"budget-go/internal/config"
	"budget-go/internal/fx"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := app.LoadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a BudgetApp. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "CreateScenario").
func newApp(cmd *cobra.Command, operation string) (*app.BudgetApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewBudgetApp(cmd.Context(), cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// closeApp closes a and reports a flush failure unless the command already failed.
func closeApp(a *app.BudgetApp, err *error) {
	if cerr := a.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

// printStructured writes v as YAML or JSON when --output asks for it.
// It returns false for the default text output.
func printStructured(cmd *cobra.Command, v any) (bool, error) {
	output, _ := cmd.Flags().GetString("output")
	switch output {
	case "", "text":
		return false, nil
	case "yaml":
		// Go through JSON so field names follow the json tags and raw
		// content is emitted as data rather than bytes.
		data, err := json.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("encoding output: %w", err)
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return true, fmt.Errorf("encoding output: %w", err)
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return true, fmt.Errorf("encoding yaml: %w", err)
		}
		return true, enc.Close()
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	default:
		return true, fmt.Errorf("unknown output format %q (want text, yaml or json)", output)
	}
}

// readPassphrase returns BUDGET_PASSPHRASE if set, otherwise prompts on the
// terminal. With confirm the passphrase is asked for twice.
func readPassphrase(confirm bool) (string, error) {
	if p := os.Getenv("BUDGET_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal for passphrase prompt; set BUDGET_PASSPHRASE")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if !confirm {
		return string(first), nil
	}

	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passphrases do not match")
	}
	return string(first), nil
}

// readContent loads scenario content from a JSON file; "-" reads stdin.
func readContent(path string) (budget.ScenarioContent, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	var content budget.ScenarioContent
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("content must be a JSON object: %w", err)
	}
	return content, nil
}

// parsePair splits "USD-EUR" or "USD/EUR" into its two codes.
func parsePair(s string) (string, string, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		from, to, ok = strings.Cut(s, "/")
	}
	if !ok {
		return "", "", fmt.Errorf("currency pair %q must look like USD-EUR", s)
	}
	return fx.NormalizeCode(from), fx.NormalizeCode(to), nil
}

var rootCmd = &cobra.Command{
	Use:          "budget",
	Short:        "Budget scenario storage and currency conversion",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Printf("Storage:  %s (%s)\n", cfg.Storage.Type, cfg.Storage.SQLitePath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if ok, err := printStructured(cmd, cfg); ok {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("App Prefix: %s\n", cfg.AppPrefix)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Storage:    %s, %d bytes\n", cfg.Storage.Type, cfg.Storage.CapacityBytes)
		fmt.Printf("Currency:   base %s, display %s\n", cfg.FX.BaseCurrency, cfg.FX.DisplayCurrency)
		return nil
	},
}

// scenario command
var scenarioCmd = &cobra.Command{
	Use:     "scenario",
	Aliases: []string{"sc"},
	Short:   "Manage scenarios",
}

var scenarioCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a scenario",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		description, _ := cmd.Flags().GetString("description")
		contentPath, _ := cmd.Flags().GetString("content")

		var content budget.ScenarioContent
		if contentPath != "" {
			if content, err = readContent(contentPath); err != nil {
				return err
			}
		}

		a, err := newApp(cmd, "CreateScenario")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		s, err := a.CreateScenario(args[0], description, content)
		if err != nil {
			return err
		}
		fmt.Printf("Created scenario %s\n", s.ID)
		return nil
	},
}

var scenarioListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scenarios",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "ListScenarios")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		items, err := a.ListScenarios()
		if err != nil {
			return err
		}
		if ok, err := printStructured(cmd, items); ok {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No scenarios.")
			return nil
		}
		for _, it := range items {
			route := ""
			if it.OriginCountry != "" || it.DestinationCountry != "" {
				route = fmt.Sprintf("  %s -> %s", it.OriginCountry, it.DestinationCountry)
			}
			fmt.Printf("%s  %s  %s%s\n", it.ID, it.UpdatedAt.Local().Format("2006-01-02 15:04"), it.Name, route)
		}
		return nil
	},
}

var scenarioShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a scenario",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "GetScenario")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		s, err := a.GetScenario(args[0])
		if err != nil {
			return err
		}
		view := map[string]any{
			"id":          s.ID,
			"name":        s.Name,
			"description": s.Description,
			"createdAt":   s.CreatedAt,
			"updatedAt":   s.UpdatedAt,
			"content":     s.Content,
		}
		if ok, err := printStructured(cmd, view); ok {
			return err
		}

		fmt.Printf("ID:          %s\n", s.ID)
		fmt.Printf("Name:        %s\n", s.Name)
		fmt.Printf("Description: %s\n", s.Description)
		fmt.Printf("Created:     %s\n", s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Updated:     %s\n", s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		content, err := json.MarshalIndent(s.Content, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding content: %w", err)
		}
		fmt.Printf("Content:\n%s\n", content)
		return nil
	},
}

var scenarioUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Update a scenario",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var updates budget.ScenarioUpdate
		if cmd.Flags().Changed("name") {
			name, _ := cmd.Flags().GetString("name")
			updates.Name = &name
		}
		if cmd.Flags().Changed("description") {
			description, _ := cmd.Flags().GetString("description")
			updates.Description = &description
		}
		if contentPath, _ := cmd.Flags().GetString("content"); contentPath != "" {
			if updates.Content, err = readContent(contentPath); err != nil {
				return err
			}
		}

		a, err := newApp(cmd, "UpdateScenario")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		s, err := a.UpdateScenario(args[0], updates)
		if err != nil {
			return err
		}
		fmt.Printf("Updated scenario %s\n", s.ID)
		return nil
	},
}

var scenarioRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a scenario",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "DeleteScenario")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if err := a.DeleteScenario(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted scenario %s\n", args[0])
		return nil
	},
}

var scenarioDupCmd = &cobra.Command{
	Use:   "dup ID [NAME]",
	Short: "Duplicate a scenario",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "DuplicateScenario")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		s, err := a.DuplicateScenario(args[0], name)
		if err != nil {
			return err
		}
		fmt.Printf("Created scenario %s (%s)\n", s.ID, s.Name)
		return nil
	},
}

var scenarioStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show scenario storage usage",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "ScenarioStats")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		st, err := a.ScenarioStats()
		if err != nil {
			return err
		}
		if ok, err := printStructured(cmd, st); ok {
			return err
		}

		fmt.Printf("Scenarios:  %d\n", st.TotalScenarios)
		fmt.Printf("Size:       %d bytes\n", st.TotalSizeBytes)
		fmt.Printf("Remaining:  %d bytes\n", st.RemainingBytes)
		fmt.Printf("Usage:      %.1f%%\n", st.UsagePercentage)
		if st.TotalScenarios > 0 {
			fmt.Printf("Room for:   ~%d scenarios\n", st.EstimatedCapacity)
		}
		return nil
	},
}

var scenarioExportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Export all scenarios",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		passphrase := ""
		if encrypt, _ := cmd.Flags().GetBool("encrypt"); encrypt {
			if passphrase, err = readPassphrase(true); err != nil {
				return err
			}
		}

		a, err := newApp(cmd, "ExportScenarios")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if err := a.ExportScenarios(args[0], passphrase); err != nil {
			return err
		}
		fmt.Printf("Exported scenarios to %s\n", args[0])
		return nil
	},
}

var scenarioImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import scenarios from an export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		passphrase := ""
		if encrypted, _ := cmd.Flags().GetBool("encrypted"); encrypted {
			if passphrase, err = readPassphrase(false); err != nil {
				return err
			}
		}

		a, err := newApp(cmd, "ImportScenarios")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		n, err := a.ImportScenarios(args[0], passphrase, overwrite)
		if err != nil {
			var conflict *budget.ConflictError
			if errors.As(err, &conflict) {
				return fmt.Errorf("%w (use --overwrite to replace them)", err)
			}
			return err
		}
		fmt.Printf("Imported %d scenario(s)\n", n)
		return nil
	},
}

// fx command
var fxCmd = &cobra.Command{
	Use:   "fx",
	Short: "Exchange rates and currency settings",
}

var fxRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the latest rate table",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "RefreshRates")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		table, err := a.RefreshRates(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Fetched %d rates against %s as of %s\n",
			len(table.Rates), table.Base, table.FetchedAt.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

var fxRateCmd = &cobra.Command{
	Use:   "rate FROM-TO",
	Short: "Show the exchange rate for a pair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		from, to, err := parsePair(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "Rate")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		rate, err := a.Rate(from, to)
		if err != nil {
			return err
		}
		if ok, err := printStructured(cmd, rate); ok {
			return err
		}
		fmt.Printf("1 %s = %.6f %s  (%s, %s)\n", rate.From, rate.Rate, rate.To,
			rate.Provider, rate.AsOf.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

var fxConvertCmd = &cobra.Command{
	Use:   "convert AMOUNT FROM [TO]",
	Short: "Convert an amount",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		amount, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[0], err)
		}
		to := ""
		if len(args) > 2 {
			to = args[2]
		}

		a, err := newApp(cmd, "Convert")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		conv, err := a.Convert(amount, args[1], to)
		if err != nil {
			return err
		}
		if ok, err := printStructured(cmd, conv); ok {
			return err
		}
		fmt.Printf("%s = %s  (%s)\n", conv.Source, conv.Display, conv.Rate.Provider)
		fmt.Printf("range: %.2f .. %.2f %s\n", conv.Band.Low, conv.Band.High, conv.Converted.Currency)
		return nil
	},
}

var fxShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show currency settings",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "FXSettings")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		s := a.FXSettings()
		if ok, err := printStructured(cmd, s); ok {
			return err
		}
		fmt.Printf("Base:         %s\n", s.BaseCurrency)
		fmt.Printf("Display:      %s\n", s.DisplayCurrency)
		fmt.Printf("Manual rates: %t\n", s.ManualRatesEnabled)
		for pair, rate := range s.CustomRates {
			fmt.Printf("  %s  %.6f\n", pair, rate)
		}
		fmt.Printf("Sensitivity:  -%.1f%% / +%.1f%%\n", s.SensitivityRange.LowPct, s.SensitivityRange.HighPct)
		return nil
	},
}

var fxSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change currency settings",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var u fx.SettingsUpdate
		flags := cmd.Flags()
		if flags.Changed("base") {
			v, _ := flags.GetString("base")
			u.BaseCurrency = &v
		}
		if flags.Changed("display") {
			v, _ := flags.GetString("display")
			u.DisplayCurrency = &v
		}
		if flags.Changed("manual") {
			v, _ := flags.GetBool("manual")
			u.ManualRatesEnabled = &v
		}
		if flags.Changed("low") || flags.Changed("high") {
			low, _ := flags.GetFloat64("low")
			high, _ := flags.GetFloat64("high")
			u.SensitivityRange = &fx.SensitivityRange{LowPct: low, HighPct: high}
		}

		a, err := newApp(cmd, "UpdateFXSettings")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if u.SensitivityRange != nil {
			current := a.FXSettings().SensitivityRange
			if !flags.Changed("low") {
				u.SensitivityRange.LowPct = current.LowPct
			}
			if !flags.Changed("high") {
				u.SensitivityRange.HighPct = current.HighPct
			}
		}

		s, err := a.UpdateFXSettings(u)
		if err != nil {
			return err
		}
		fmt.Printf("Base %s, display %s, manual rates %t\n", s.BaseCurrency, s.DisplayCurrency, s.ManualRatesEnabled)
		return nil
	},
}

var fxOverrideCmd = &cobra.Command{
	Use:   "override FROM-TO [RATE]",
	Short: "Set or remove a manual rate",
	Long:  "Set a manual rate for a pair. Without RATE, or with --remove, the override is deleted.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		from, to, err := parsePair(args[0])
		if err != nil {
			return err
		}
		remove, _ := cmd.Flags().GetBool("remove")

		a, err := newApp(cmd, "RateOverride")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if remove || len(args) == 1 {
			if err := a.RemoveRateOverride(from, to); err != nil {
				return err
			}
			fmt.Printf("Removed override %s-%s\n", from, to)
			return nil
		}

		rate, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid rate %q: %w", args[1], err)
		}
		if err := a.SetRateOverride(from, to, rate); err != nil {
			return err
		}
		fmt.Printf("Set override %s-%s = %.6f\n", from, to, rate)
		if !a.FXSettings().ManualRatesEnabled {
			fmt.Println("Manual rates are disabled; enable them with: budget fx set --manual")
		}
		return nil
	},
}

// storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect the storage medium",
}

var storageStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage usage",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "StorageStats")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		st, err := a.StorageStats()
		if err != nil {
			return err
		}
		if ok, err := printStructured(cmd, st); ok {
			return err
		}
		fmt.Printf("Used:      %d bytes\n", st.UsedBytes)
		fmt.Printf("Available: %d bytes\n", st.AvailableBytes)
		fmt.Printf("Capacity:  %d bytes\n", st.TotalCapacityBytes)
		fmt.Printf("Usage:     %.1f%%\n", st.UsagePercentage)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("output", "o", "text", "Output format: text, yaml or json")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// scenario subcommands
	scenarioCmd.AddCommand(scenarioCreateCmd)
	scenarioCreateCmd.Flags().StringP("description", "d", "", "Scenario description")
	scenarioCreateCmd.Flags().StringP("content", "c", "", "JSON file with scenario content (- for stdin)")
	scenarioCmd.AddCommand(scenarioListCmd)
	scenarioCmd.AddCommand(scenarioShowCmd)
	scenarioCmd.AddCommand(scenarioUpdateCmd)
	scenarioUpdateCmd.Flags().StringP("name", "n", "", "New name")
	scenarioUpdateCmd.Flags().StringP("description", "d", "", "New description")
	scenarioUpdateCmd.Flags().StringP("content", "c", "", "JSON file replacing the content (- for stdin)")
	scenarioCmd.AddCommand(scenarioRmCmd)
	scenarioCmd.AddCommand(scenarioDupCmd)
	scenarioCmd.AddCommand(scenarioStatsCmd)
	scenarioCmd.AddCommand(scenarioExportCmd)
	scenarioExportCmd.Flags().BoolP("encrypt", "e", false, "Encrypt the export with a passphrase")
	scenarioCmd.AddCommand(scenarioImportCmd)
	scenarioImportCmd.Flags().BoolP("encrypted", "e", false, "The file is encrypted with a passphrase")
	scenarioImportCmd.Flags().Bool("overwrite", false, "Replace scenarios that already exist")

	// fx subcommands
	fxCmd.AddCommand(fxRefreshCmd)
	fxCmd.AddCommand(fxRateCmd)
	fxCmd.AddCommand(fxConvertCmd)
	fxCmd.AddCommand(fxShowCmd)
	fxCmd.AddCommand(fxSetCmd)
	fxSetCmd.Flags().String("base", "", "Base currency of fetched rates")
	fxSetCmd.Flags().String("display", "", "Currency amounts are displayed in")
	fxSetCmd.Flags().Bool("manual", false, "Use manual rate overrides")
	fxSetCmd.Flags().Float64("low", 0, "Sensitivity band: percent below the rate")
	fxSetCmd.Flags().Float64("high", 0, "Sensitivity band: percent above the rate")
	fxCmd.AddCommand(fxOverrideCmd)
	fxOverrideCmd.Flags().Bool("remove", false, "Remove the override")

	// storage subcommands
	storageCmd.AddCommand(storageStatsCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(scenarioCmd)
	rootCmd.AddCommand(fxCmd)
	rootCmd.AddCommand(storageCmd)
}
