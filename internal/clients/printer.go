package clients

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/andyleap/authsessions/internal/models"
)

// MaskedSecret replaces client secrets wherever clients are displayed
const MaskedSecret = "*****"

func maskSecret(secret string) string {
	if secret == "" {
		return "null"
	}
	return MaskedSecret
}

// RenderSummary writes one row per client. Secrets are always masked.
func RenderSummary(w io.Writer, clients []models.Client) error {
	if len(clients) == 0 {
		_, err := fmt.Fprintln(w, "No clients to display.")
		return err
	}

	headers := []string{"Client ID", "Client Name", "Secret", "Grant Types", "Access Token (s)", "Refresh Token (s)"}
	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithHeader(headers),
		tablewriter.WithRendition(
			tw.Rendition{
				Borders: tw.Border{
					Left:   tw.State(1),
					Top:    tw.State(1),
					Right:  tw.State(1),
					Bottom: tw.State(1),
				},
			},
		),
		tablewriter.WithAlignment(tw.MakeAlign(len(headers), tw.AlignLeft)),
	)

	for _, c := range clients {
		grants := make([]string, len(c.GrantTypes))
		for i, g := range c.GrantTypes {
			grants[i] = string(g)
		}
		if err := table.Append([]string{
			c.ClientID,
			c.Name,
			maskSecret(c.Secret),
			strings.Join(grants, ","),
			strconv.Itoa(int(c.AccessTokenTTL.Seconds())),
			strconv.Itoa(int(c.RefreshTokenTTL.Seconds())),
		}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}
