// Package main is the entrypoint for the gatekey operator CLI.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gatekey/gatekey/internal/config"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

const requestTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gatekey",
		Short: "Gatekey license client - activate and verify deployment licenses",
		Long: `Gatekey is the operator CLI for a Gatekey license server.

Run 'gatekey configure' to point it at a server, then 'gatekey activate'
to bind a purchase code to this deployment's domain.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigureCmd(),
		newActivateCmd(),
		newVerifyCmd(),
		newModeCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Gatekey CLI %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newConfigureCmd() *cobra.Command {
	var serverURL string
	var domain string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Point the CLI at a Gatekey server",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := url.Parse(serverURL)
			if err != nil {
				return fmt.Errorf("invalid server URL: %w", err)
			}
			if parsed.Scheme != "http" && parsed.Scheme != "https" {
				return fmt.Errorf("server URL must use http or https scheme")
			}

			cfg, err := config.LoadDefaultClientConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			cfg.ServerURL = strings.TrimSuffix(serverURL, "/")
			if domain != "" {
				cfg.Domain = domain
			}

			if err := cfg.SaveDefault(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			configPath, _ := config.DefaultClientConfigPath()
			fmt.Printf("Configuration saved to %s\n", configPath)
			fmt.Printf("Server: %s\n", cfg.ServerURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Gatekey server URL (required)")
	cmd.Flags().StringVar(&domain, "domain", "", "Default deployment domain")
	_ = cmd.MarkFlagRequired("server")

	return cmd
}

func newActivateCmd() *cobra.Command {
	var code string
	var domain string

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate a purchase code for a deployment domain",
		Long: `Activate binds a marketplace purchase code to a deployment domain and
stores the issued license token in the CLI config. Re-running activation
rotates the token; the previous one stops working immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfiguredClient()
			if err != nil {
				return err
			}
			if domain == "" {
				domain = cfg.Domain
			}
			if domain == "" {
				return fmt.Errorf("domain required: pass --domain or set one with 'gatekey configure'")
			}

			var resp struct {
				Message      string `json:"message"`
				LicenseToken string `json:"license_token"`
			}
			err = postJSON(cfg.ServerURL+"/activate", "", map[string]string{
				"purchase_code": code,
				"domain":        domain,
			}, &resp)
			if err != nil {
				return err
			}

			cfg.Domain = domain
			cfg.LicenseToken = resp.LicenseToken
			if err := cfg.SaveDefault(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Println(resp.Message)
			fmt.Printf("License token stored for %s\n", domain)
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "Marketplace purchase code (required)")
	cmd.Flags().StringVar(&domain, "domain", "", "Deployment domain (defaults to configured domain)")
	_ = cmd.MarkFlagRequired("code")

	return cmd
}

func newVerifyCmd() *cobra.Command {
	var domain string
	var token string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the stored license token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfiguredClient()
			if err != nil {
				return err
			}
			if token == "" {
				token = cfg.LicenseToken
			}
			if token == "" {
				return fmt.Errorf("no license token: run 'gatekey activate' first or pass --token")
			}
			if domain == "" {
				domain = cfg.Domain
			}
			if domain == "" {
				return fmt.Errorf("domain required: pass --domain or set one with 'gatekey configure'")
			}

			var resp struct {
				Valid   bool   `json:"valid"`
				Message string `json:"message"`
			}
			err = postJSON(cfg.ServerURL+"/verify", "", map[string]string{
				"license_token": token,
				"domain":        domain,
			}, &resp)
			if err != nil && !resp.Valid && resp.Message == "" {
				return err
			}

			if resp.Valid {
				fmt.Printf("License valid for %s\n", domain)
				return nil
			}
			return fmt.Errorf("license invalid: %s", resp.Message)
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "Deployment domain (defaults to configured domain)")
	cmd.Flags().StringVar(&token, "token", "", "License token (defaults to stored token)")

	return cmd
}

func newModeCmd() *cobra.Command {
	var set string

	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Show or change the server's live/test mode (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfiguredClient()
			if err != nil {
				return err
			}
			if cfg.AdminSecret == "" {
				return fmt.Errorf("admin_secret not set in %s", mustConfigPath())
			}

			var resp struct {
				Mode string `json:"mode"`
			}
			if set == "" {
				if err := getJSON(cfg.ServerURL+"/admin/mode", cfg.AdminSecret, &resp); err != nil {
					return err
				}
			} else {
				err := postJSON(cfg.ServerURL+"/admin/mode", cfg.AdminSecret, map[string]string{"mode": set}, &resp)
				if err != nil {
					return err
				}
			}
			fmt.Printf("Server mode: %s\n", resp.Mode)
			return nil
		},
	}

	cmd.Flags().StringVar(&set, "set", "", "Set the mode to 'live' or 'test'")

	return cmd
}

func loadConfiguredClient() (*config.ClientConfig, error) {
	cfg, err := config.LoadDefaultClientConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("not configured: %w (run 'gatekey configure')", err)
	}
	return cfg, nil
}

func mustConfigPath() string {
	path, _ := config.DefaultClientConfigPath()
	return path
}

func postJSON(url, bearer string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return doJSON(req, out)
}

func getJSON(url, bearer string, out any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return doJSON(req, out)
}

func doJSON(req *http.Request, out any) error {
	client := &http.Client{Timeout: requestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Decode even on failure statuses: the server returns JSON error bodies.
	if out != nil {
		_ = json.Unmarshal(body, out)
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &errBody)
		if errBody.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, errBody.Message)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	return nil
}
