package client

import (
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

// NewAdminCommand constructs the `admin` command group: tenant, project,
// key, retention, and usage operations. All subcommands require a key
// with the matching admin scope in TIDAL_API_KEY.
func NewAdminCommand(baseURL BaseURLFunc) *cobra.Command {
	adminCmd := &cobra.Command{Use: "admin", Short: "Control plane operations"}

	adminCmd.AddCommand(
		newTenantCommand(baseURL),
		newProjectCommand(baseURL),
		newKeyCommand(baseURL),
		newRetentionCommand(baseURL),
		newUsageCommand(baseURL),
	)

	return adminCmd
}

func newTenantCommand(baseURL BaseURLFunc) *cobra.Command {
	tenantCmd := &cobra.Command{Use: "tenant", Short: "Tenant operations"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			plan, _ := cmd.Flags().GetString("plan")
			out, err := newAPI(baseURL).do(cmd.Context(), http.MethodPost, "/v1/admin/tenants", nil,
				map[string]any{"name": name, "plan": plan})
			if err != nil {
				return err
			}
			printJSON(os.Stdout, out)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant name")
	createCmd.Flags().String("plan", "", "Billing plan (optional)")
	_ = createCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := newAPI(baseURL).do(cmd.Context(), http.MethodGet, "/v1/admin/tenants", nil, nil)
			if err != nil {
				return err
			}
			printJSON(os.Stdout, out)
			return nil
		},
	}

	suspendCmd := newTenantActionCommand(baseURL, "suspend",
		"Suspend a tenant and close its connections", "/v1/admin/tenants/suspend")
	resumeCmd := newTenantActionCommand(baseURL, "resume",
		"Resume a suspended tenant", "/v1/admin/tenants/resume")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show tenant stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			q := url.Values{}
			q.Set("tenant", tenant)
			out, err := newAPI(baseURL).do(cmd.Context(), http.MethodGet, "/v1/admin/tenants/stats", q, nil)
			if err != nil {
				return err
			}
			printJSON(os.Stdout, out)
			return nil
		},
	}
	statsCmd.Flags().String("tenant", "", "Tenant id")
	_ = statsCmd.MarkFlagRequired("tenant")

	tenantCmd.AddCommand(createCmd, listCmd, suspendCmd, resumeCmd, statsCmd)
	return tenantCmd
}

func newTenantActionCommand(baseURL BaseURLFunc, use, short, path string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			out, err := newAPI(baseURL).do(cmd.Context(), http.MethodPost, path, nil,
				map[string]any{"tenant": tenant})
			if err != nil {
				return err
			}
			if len(out) > 0 {
				printJSON(os.Stdout, out)
			}
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "Tenant id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newProjectCommand(baseURL BaseURLFunc) *cobra.Command {
	projectCmd := &cobra.Command{Use: "project", Short: "Project operations"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project under a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			name, _ := cmd.Flags().GetString("name")
			maxConns, _ := cmd.Flags().GetInt("max-connections")
			maxEps, _ := cmd.Flags().GetFloat64("max-events-per-sec")
			maxPayload, _ := cmd.Flags().GetInt("max-payload-bytes")

			body := map[string]any{"tenant": tenant, "name": name}
			if maxConns > 0 {
				body["max_connections"] = maxConns
			}
			if maxEps > 0 {
				body["max_events_per_sec"] = maxEps
			}
			if maxPayload > 0 {
				body["max_payload_bytes"] = maxPayload
			}
			out, err := newAPI(baseURL).do(cmd.Context(), http.MethodPost, "/v1/admin/projects", nil, body)
			if err != nil {
				return err
			}
			printJSON(os.Stdout, out)
			return nil
		},
	}
	createCmd.Flags().String("tenant", "", "Tenant id")
	createCmd.Flags().String("name", "", "Project name")
	createCmd.Flags().Int("max-connections", 0, "Connection quota (server default when 0)")
	createCmd.Flags().Float64("max-events-per-sec", 0, "Publish rate limit (server default when 0)")
	createCmd.Flags().Int("max-payload-bytes", 0, "Payload size limit (server default when 0)")
	_ = createCmd.MarkFlagRequired("tenant")
	_ = createCmd.MarkFlagRequired("name")

	projectCmd.AddCommand(createCmd)
	return projectCmd
}

func newKeyCommand(baseURL BaseURLFunc) *cobra.Command {
	keyCmd := &cobra.Command{Use: "key", Short: "API key operations"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			project, _ := cmd.Flags().GetString("project")
			scopes, _ := cmd.Flags().GetStringSlice("scope")
			capacity, _ := cmd.Flags().GetFloat64("rate-capacity")
			refill, _ := cmd.Flags().GetFloat64("rate-refill")
			expiresMs, _ := cmd.Flags().GetInt64("expires-at-ms")

			body := map[string]any{"tenant": tenant, "project": project, "scopes": scopes}
			if capacity > 0 {
				body["rate_capacity"] = capacity
			}
			if refill > 0 {
				body["rate_refill"] = refill
			}
			if expiresMs > 0 {
				body["expires_at_ms"] = expiresMs
			}
			out, err := newAPI(baseURL).do(cmd.Context(), http.MethodPost, "/v1/admin/keys", nil, body)
			if err != nil {
				return err
			}
			printJSON(os.Stdout, out)
			return nil
		},
	}
	createCmd.Flags().String("tenant", "", "Tenant id")
	createCmd.Flags().String("project", "", "Project name")
	createCmd.Flags().StringSlice("scope", []string{"events:publish", "events:subscribe"}, "Scope to grant (repeatable)")
	createCmd.Flags().Float64("rate-capacity", 0, "Token bucket capacity")
	createCmd.Flags().Float64("rate-refill", 0, "Token bucket refill per second")
	createCmd.Flags().Int64("expires-at-ms", 0, "Expiry in unix ms (0 for no expiry)")
	_ = createCmd.MarkFlagRequired("tenant")
	_ = createCmd.MarkFlagRequired("project")

	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key by its hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hash, _ := cmd.Flags().GetString("hash")
			_, err := newAPI(baseURL).do(cmd.Context(), http.MethodPost, "/v1/admin/keys/revoke", nil,
				map[string]any{"hash": hash})
			return err
		},
	}
	revokeCmd.Flags().String("hash", "", "Key hash")
	_ = revokeCmd.MarkFlagRequired("hash")

	keyCmd.AddCommand(createCmd, revokeCmd)
	return keyCmd
}

func newRetentionCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Set a per-topic retention policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			project, _ := cmd.Flags().GetString("project")
			topic, _ := cmd.Flags().GetString("topic")
			maxAge, _ := cmd.Flags().GetDuration("max-age")
			maxBytes, _ := cmd.Flags().GetInt64("max-bytes")

			_, err := newAPI(baseURL).do(cmd.Context(), http.MethodPost, "/v1/admin/retention", nil, map[string]any{
				"tenant":     tenant,
				"project":    project,
				"topic":      topic,
				"max_age_ms": maxAge.Milliseconds(),
				"max_bytes":  maxBytes,
			})
			return err
		},
	}
	cmd.Flags().String("tenant", "", "Tenant id")
	cmd.Flags().String("project", "", "Project name")
	cmd.Flags().String("topic", "", "Topic name")
	cmd.Flags().Duration("max-age", 0, "Max event age, e.g. 72h (0 disables age trimming)")
	cmd.Flags().Int64("max-bytes", 0, "Max topic bytes (0 disables size trimming)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func newUsageCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show a usage total for billing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			project, _ := cmd.Flags().GetString("project")
			metric, _ := cmd.Flags().GetString("metric")

			q := url.Values{}
			q.Set("tenant", tenant)
			q.Set("project", project)
			q.Set("metric", metric)
			out, err := newAPI(baseURL).do(cmd.Context(), http.MethodGet, "/v1/admin/usage", q, nil)
			if err != nil {
				return err
			}
			printJSON(os.Stdout, out)
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "Tenant id")
	cmd.Flags().String("project", "", "Project name")
	cmd.Flags().String("metric", "events_published", "Metric name")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
