package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iTrooz/offline-worker/internal/worker"
)

type pushFlags struct {
	server string
	title  string
	body   string
	file   string
}

func newPushCommand() *cobra.Command {
	var flags pushFlags

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Send a push message to a running worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := pushPayload(flags)
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Post(strings.TrimSuffix(flags.server, "/")+"/push", "application/json", bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("sending push: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusAccepted {
				msg, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("push rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Push delivered")
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.server, "server", "http://localhost:8080", "address of the running worker proxy")
	cmd.Flags().StringVar(&flags.title, "title", "", "notification title")
	cmd.Flags().StringVar(&flags.body, "body", "", "notification body")
	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "read the raw JSON payload from a file ('-' for stdin)")
	cmd.MarkFlagsMutuallyExclusive("file", "title")
	cmd.MarkFlagsMutuallyExclusive("file", "body")
	return cmd
}

// pushPayload builds the JSON payload from either a file or the title/body flags
func pushPayload(flags pushFlags) ([]byte, error) {
	if flags.file != "" {
		var data []byte
		var err error
		if flags.file == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(flags.file)
		}
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
		if !json.Valid(data) {
			return nil, errors.New("payload is not valid JSON")
		}
		return data, nil
	}

	if flags.title == "" {
		return nil, errors.New("either --file or --title is required")
	}
	return json.Marshal(worker.PushMessage{
		Notification: &worker.PushNotification{
			Title: flags.title,
			Body:  flags.body,
		},
	})
}
