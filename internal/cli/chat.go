package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/soyeahso/lucai/internal/config"
	"github.com/soyeahso/lucai/internal/consumer"
	"github.com/soyeahso/lucai/internal/domain"
	"github.com/spf13/cobra"
)

// apiFlags are shared by the commands that talk to a running server.
type apiFlags struct {
	url   string
	token string
	user  string
}

func (f *apiFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "server URL (default derived from gateway config)")
	cmd.Flags().StringVar(&f.token, "token", "", "bearer token (default gateway.auth.token)")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "user ID (default $LUCAI_USER, then $USER)")
}

// client builds an API client and resolves the user ID.
func (f *apiFlags) client() (*consumer.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	url := f.url
	if url == "" {
		url = gatewayURL(cfg.Gateway)
	}
	token := f.token
	if token == "" {
		token = cfg.Gateway.Auth.Token
	}
	user := f.user
	for _, env := range []string{"LUCAI_USER", "USER"} {
		if user == "" {
			user = os.Getenv(env)
		}
	}
	if user == "" {
		return nil, "", errors.New("no user ID: pass --user or set LUCAI_USER")
	}
	return consumer.NewClient(url, token, log), user, nil
}

// gatewayURL is where a local client reaches the configured gateway.
func gatewayURL(g config.GatewayConfig) string {
	scheme := "http"
	if g.TLS.Enabled {
		scheme = "https"
	}
	host := "127.0.0.1"
	if g.Bind == "custom" && g.CustomBindHost != "" && g.CustomBindHost != "0.0.0.0" {
		host = g.CustomBindHost
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, g.Port)
}

// deltaPrinter writes only the text that is new since the last state.
type deltaPrinter struct {
	w       io.Writer
	printed int
}

func (p *deltaPrinter) observe(s consumer.State) {
	switch s.Phase {
	case consumer.PhaseStreaming, consumer.PhaseSettled:
		if len(s.Text) > p.printed {
			fmt.Fprint(p.w, s.Text[p.printed:])
			p.printed = len(s.Text)
		}
	case consumer.PhaseErrored:
		if p.printed > 0 {
			fmt.Fprintln(p.w)
		}
		fmt.Fprint(p.w, s.Text)
		p.printed = len(s.Text)
	}
}

func newChatCmd() *cobra.Command {
	var api apiFlags

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to LucAI; without a message, read prompts from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, user, err := api.client()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				return sendOne(ctx, client, user, strings.Join(args, " "), out)
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			fmt.Fprint(out, "> ")
			for scanner.Scan() {
				prompt := strings.TrimSpace(scanner.Text())
				if prompt != "" {
					if err := sendOne(ctx, client, user, prompt, out); err != nil {
						return err
					}
				}
				fmt.Fprint(out, "> ")
			}
			fmt.Fprintln(out)
			return scanner.Err()
		},
	}

	api.register(cmd)
	return cmd
}

// sendOne streams one answer to out. Server-side failures are shown as the
// apology and do not end an interactive session.
func sendOne(ctx context.Context, client *consumer.Client, user, prompt string, out io.Writer) error {
	p := &deltaPrinter{w: out}
	st, err := client.Send(ctx, domain.ChatRequest{Prompt: prompt, UserID: user}, p.observe)
	fmt.Fprintln(out)

	var apiErr *consumer.APIError
	switch {
	case err == nil:
		if st.Phase == consumer.PhaseErrored {
			log.Debug().Str("cause", st.Cause).Msg("server reported an error")
		}
		return nil
	case errors.As(err, &apiErr) && apiErr.Status < 500 && apiErr.Status != 401:
		fmt.Fprintf(out, "request rejected: %s\n", apiErr.Message)
		return nil
	default:
		return err
	}
}
