package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flockvet/internal/auth"
	"flockvet/internal/core"
	"flockvet/internal/knowledge"
)

var (
	tokenSubject string
	tokenRole    string
)

// askCmd answers a single question from the command line
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the assistant a question",
	Long: `Answers a question the same way the chat endpoint does, without a session.

Example:
  flockvet ask "my chickens are coughing"
  flockvet ask "water pH 8.6, is that a problem?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

// diseasesCmd lists the disease table or shows one profile
var diseasesCmd = &cobra.Command{
	Use:   "diseases [id]",
	Short: "List known diseases or show one profile",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDiseases,
}

// tokenCmd mints a dashboard token
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a JWT for the veterinary dashboard",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleVeterinary), "Role: admin, farmer or veterinary")
	_ = tokenCmd.MarkFlagRequired("subject")
}

// render prints Markdown, styled for the terminal unless --raw is set.
func render(w io.Writer, markdown string) error {
	if raw {
		_, err := fmt.Fprintln(w, markdown)
		return err
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	out, err := r.Render(markdown)
	if err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	_, err = fmt.Fprint(w, out)
	return err
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	chat := newChatService(core.NewMatcher(knowledge.Default()), newLLMClient())
	reply, err := chat.Reply(ctx, "cli", question)
	if err != nil {
		logger.Warn("reply degraded", zap.Error(err))
	}
	return render(cmd.OutOrStdout(), reply)
}

func runDiseases(cmd *cobra.Command, args []string) error {
	kb := knowledge.Default()
	if len(args) == 1 {
		d, ok := kb.Disease(args[0])
		if !ok {
			return fmt.Errorf("unknown disease %q", args[0])
		}
		return render(cmd.OutOrStdout(), core.FormatDisease(d))
	}

	var b strings.Builder
	b.WriteString("| ID | Name | Category | Mortality |\n|---|---|---|---|\n")
	for _, d := range kb.Diseases {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", d.ID, d.Name, d.Type, d.Mortality)
	}
	return render(cmd.OutOrStdout(), b.String())
}

func runToken(cmd *cobra.Command, _ []string) error {
	if err := cfg.RequireAuth(); err != nil {
		return err
	}
	role, err := auth.ParseRole(tokenRole)
	if err != nil {
		return err
	}
	tok, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Generate(tokenSubject, role)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
	return err
}
