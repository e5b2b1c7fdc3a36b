package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/language"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/phone"
)

// newSendCmd creates the 'send' subcommand. It runs one send through the same
// orchestrator the API uses and prints the result as JSON.
func newSendCmd() *cobra.Command {
	var (
		contact   outreach.Contact
		lang      string
		source    string
		userAgent string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one outreach message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			src, err := outreach.ParseSource(source)
			if err != nil {
				return err
			}
			if lang != "" {
				parsed, ok := language.Parse(lang)
				if !ok {
					return fmt.Errorf("unsupported language %q", lang)
				}
				contact.Language = parsed
			}
			res := appInstance.Service().Send(cmd.Context(), outreach.SendRequest{
				Contact:   contact,
				Source:    src,
				UserAgent: userAgent,
			})
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("send refused: %s", res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&contact.Phone, "phone", "", "recipient phone number")
	cmd.Flags().StringVar(&contact.Name, "name", "", "contact name")
	cmd.Flags().StringVar(&contact.Company, "company", "", "company name")
	cmd.Flags().StringVar(&lang, "language", "", "message language override (es or en)")
	cmd.Flags().StringVar(&source, "source", string(outreach.SourceManual), "outreach source")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "user agent used to pick the launch target")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func newQuotaCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Print today's quota snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var src outreach.Source
			if source != "" {
				if src, err = outreach.ParseSource(source); err != nil {
					return err
				}
			}
			snap := appInstance.Service().CheckQuota(cmd.Context(), src)
			if snap.Err != nil {
				return fmt.Errorf("check quota: %w", snap.Err)
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "outreach source (empty for the global cap)")
	return cmd
}

func newSettingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the effective outreach settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), appInstance.Settings().Current())
		},
	}
}

type normalizeOutput struct {
	Input       string            `json:"input"`
	Normalized  string            `json:"normalized"`
	Valid       bool              `json:"valid"`
	CountryCode string            `json:"country_code,omitempty"`
	Language    language.Language `json:"language"`
}

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "normalize <phone>",
		Short:       "Normalize and validate a phone number",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := args[0]
			normalized := phone.Normalize(raw)
			return printJSON(cmd.OutOrStdout(), normalizeOutput{
				Input:       raw,
				Normalized:  normalized,
				Valid:       phone.IsValid(raw),
				CountryCode: phone.CountryCode(normalized),
				Language:    language.Detect(normalized),
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
