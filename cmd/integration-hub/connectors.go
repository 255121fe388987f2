package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/open-sspm/integration-hub/internal/config"
	"github.com/open-sspm/integration-hub/internal/connectors/configstore"
	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/connectors/ga4"
	"github.com/open-sspm/integration-hub/internal/connectors/hubspot"
	"github.com/open-sspm/integration-hub/internal/connectors/registry"
	"github.com/open-sspm/integration-hub/internal/connectors/wordpress"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/spf13/cobra"
)

// connectorDefinitions lists every integration type the hub ships with.
func connectorDefinitions(cfg config.Config) []registry.ConnectorDefinition {
	return []registry.ConnectorDefinition{
		hubspot.NewDefinition(configstore.OAuthApp{
			ClientID:     cfg.HubSpotClientID,
			ClientSecret: cfg.HubSpotClientSecret,
		}, cfg.RedirectURI(configstore.KindHubSpot)),
		ga4.NewDefinition(configstore.OAuthApp{
			ClientID:     cfg.GA4ClientID,
			ClientSecret: cfg.GA4ClientSecret,
		}, cfg.RedirectURI(configstore.KindGA4)),
		wordpress.NewDefinition(),
	}
}

func buildConnectorRegistry(cfg config.Config, deps connector.Deps) (*registry.ConnectorRegistry, error) {
	reg := registry.NewRegistry(deps)
	for _, def := range connectorDefinitions(cfg) {
		if err := reg.RegisterDefinition(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

var connectorsCmd = &cobra.Command{
	Use:         "connectors",
	Short:       "List the built-in integration types and their OAuth app configuration.",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationPlainOutput: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOptionalDB()
		if err != nil {
			return err
		}
		return writeConnectorTable(cmd.OutOrStdout(), cfg)
	},
}

func writeConnectorTable(w io.Writer, cfg config.Config) error {
	apps := map[string]configstore.OAuthApp{
		configstore.KindHubSpot: {ClientID: cfg.HubSpotClientID, ClientSecret: cfg.HubSpotClientSecret},
		configstore.KindGA4:     {ClientID: cfg.GA4ClientID, ClientSecret: cfg.GA4ClientSecret},
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tNAME\tAUTH\tCONFIGURED\tCLIENT ID\tCLIENT SECRET\tCALLBACK")
	for _, def := range connectorDefinitions(cfg) {
		meta := def.Metadata()
		configured, clientID, secret, callback := "yes", "-", "-", "-"
		if meta.AuthMethod == integration.AuthMethodOAuth2 {
			app := apps[def.Kind()].Normalized()
			if !app.IsConfigured() {
				configured = "no"
			}
			clientID = orUnset(configstore.MaskSecret(app.ClientID))
			secret = orUnset(configstore.MaskSecret(app.ClientSecret))
			callback = cfg.RedirectURI(def.Kind())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			def.Kind(), meta.DisplayName, meta.AuthMethod, configured, clientID, secret, callback)
	}
	return tw.Flush()
}

func orUnset(v string) string {
	if v == "" {
		return "(unset)"
	}
	return v
}
