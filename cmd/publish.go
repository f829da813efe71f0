package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"cv-recommender/infrastructure"
)

// newPublishCmd replays events onto the exchange, one JSON object per line.
func newPublishCmd() *cobra.Command {
	var (
		routingKey string
		file       string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish JSON-lines events to the ingestion exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			broker, err := infrastructure.LoadBrokerConfig(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := infrastructure.NewLogger(viper.GetString("log.level"), viper.GetBool("log.json"))
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			in := io.Reader(os.Stdin)
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			rmq := infrastructure.NewRabbitMQ(broker, logger)
			defer rmq.Close()

			n, err := publishLines(cmd, in, func(body []byte) error {
				return rmq.Publish(cmd.Context(), routingKey, body)
			})
			logger.Info("events published", zap.String("routing_key", routingKey), zap.Int("count", n))
			return err
		},
	}
	cmd.Flags().StringVar(&routingKey, "routing-key", "", "Routing key to publish with")
	cmd.Flags().StringVar(&file, "file", "-", "JSON-lines file (- for stdin)")
	_ = cmd.MarkFlagRequired("routing-key")
	return cmd
}

func publishLines(cmd *cobra.Command, in io.Reader, publish func([]byte) error) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)

	published := 0
	for line := 1; scanner.Scan(); line++ {
		body := bytes.TrimSpace(scanner.Bytes())
		if len(body) == 0 {
			continue
		}
		if !json.Valid(body) {
			return published, fmt.Errorf("line %d is not valid JSON", line)
		}
		if err := publish(append([]byte(nil), body...)); err != nil {
			return published, fmt.Errorf("publish line %d: %w", line, err)
		}
		published++
	}
	if err := scanner.Err(); err != nil {
		return published, err
	}
	cmd.Printf("published %d events\n", published)
	return published, nil
}
