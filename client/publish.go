package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nzlov/carewire/internal/pubsub"
)

func buildPublishCmd(configPath *string) *cobra.Command {
	var (
		msgType   string
		data      string
		recipient string
		addr      string
		secret    string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a pub/sub message through the relay admin endpoint",
		Example: `  carewire publish --type system_alert --data '{"level":"info","message":"maintenance at 22:00"}'
  carewire publish --type notification --recipient u1 --data '{"title":"Hi","body":"Your session moved"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, restore, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer restore()
			if addr == "" {
				addr = cfg.Admin.URL
			}
			if secret == "" {
				secret = cfg.Admin.Secret
			}
			m := pubsub.Message{
				Type:      pubsub.MessageType(msgType),
				Data:      json.RawMessage(data),
				Recipient: recipient,
			}
			if !m.Type.Known() {
				return fmt.Errorf("unknown message type %q", msgType)
			}
			if !json.Valid(m.Data) {
				return fmt.Errorf("--data is not valid JSON")
			}
			res, err := Publish(cmd.Context(), http.DefaultClient, addr, secret, m, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "code=%s data=%s\n", res.Code, res.Data)
			if res.Code != "0" {
				return fmt.Errorf("relay refused the message: %s", res.Data)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&msgType, "type", "t", string(pubsub.TypeSystemAlert), "Message type")
	cmd.Flags().StringVarP(&data, "data", "d", "{}", "Message data as JSON")
	cmd.Flags().StringVarP(&recipient, "recipient", "r", "", "Deliver to one user instead of the type's channel")
	cmd.Flags().StringVar(&addr, "url", "", "Admin publish URL (default admin.url)")
	cmd.Flags().StringVar(&secret, "secret", "", "Admin secret (default admin.secret)")
	return cmd
}

type Result struct {
	Code string `json:"code"`
	Data string `json:"data"`
}

// Sign is the hex HMAC-SHA256 of body followed by ts.
func Sign(secret, body, ts string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(body))
	h.Write([]byte(ts))
	return hex.EncodeToString(h.Sum(nil))
}

// Publish posts m to the admin endpoint at addr, signed with secret.
func Publish(ctx context.Context, client *http.Client, addr, secret string, m pubsub.Message, now time.Time) (Result, error) {
	ts := strconv.FormatInt(now.Unix(), 10)

	u, err := url.Parse(addr)
	if err != nil {
		return Result{}, err
	}
	md, err := json.Marshal(m)
	if err != nil {
		return Result{}, err
	}

	params := url.Values{}
	params.Set("sign", Sign(secret, string(md), ts))
	params.Set("ts", ts)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(md))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}
	result := Result{}
	if err := json.Unmarshal(body, &result); err != nil {
		return Result{}, fmt.Errorf("relay response %d: %w", resp.StatusCode, err)
	}
	return result, nil
}
