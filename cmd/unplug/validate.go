package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/unplug/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

// optionalKeys are valid keys without a default value.
var optionalKeys = []string{
	"storage.redis.password",
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the Unplug configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		_, _ = fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		if err := dumpConfig(configPath); err != nil {
			return err
		}
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	keys := make(map[string]bool)
	for _, key := range config.Defaults().AllKeys() {
		keys[key] = true
	}
	for _, key := range optionalKeys {
		keys[key] = true
	}
	return keys
}

// dumpConfig prints every setting grouped by section, highlighting values
// that differ from the defaults.
func dumpConfig(configPath string) error {
	defaults := config.Defaults()

	effective := config.Defaults()
	effective.SetConfigFile(configPath)
	if err := effective.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	keys := getValidKeys()
	sorted := make([]string, 0, len(keys))
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	section := ""
	for _, key := range sorted {
		parts := strings.Split(key, ".")
		if parts[0] != section {
			section = parts[0]
			_, _ = cyan.Printf("\n[%s]\n", section)
		}
		name := "  " + strings.Join(parts[1:], ".")
		value, defaultValue := effective.Get(key), defaults.Get(key)
		if strings.HasSuffix(key, "password") {
			value, defaultValue = redactPassword(fmt.Sprint(value)), redactPassword(fmt.Sprint(defaultValue))
		}
		dumpField(name, value, defaultValue, yellow, green)
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
	return nil
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue any, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)
	defaultStr := fmt.Sprintf("%v", defaultValue)

	if valueStr == defaultStr {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %s)\n", name, valueStr, defaultStr)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" || password == "<nil>" {
		return ""
	}
	return "***REDACTED***"
}
