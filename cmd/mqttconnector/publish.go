package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-connector/internal/queue"
)

// publishQueueCapacity bounds the throwaway queue behind a one-shot bridge.
const publishQueueCapacity = 64

type publishFlags struct {
	topic   string
	payload string
	qos     int
	timeout time.Duration
}

func newPublishCommand(configPath *string) *cobra.Command {
	var f publishFlags

	cmd := &cobra.Command{
		Use:           "publish --topic TOPIC [PAYLOAD]",
		Short:         "Connect, publish one message and exit",
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.payload = args[0]
			}
			cfg, err := config.Load(config.ResolvePath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return publishOnce(cmd.Context(), cfg, f)
		},
	}
	cmd.Flags().StringVarP(&f.topic, "topic", "t", "", "topic to publish to")
	cmd.Flags().IntVarP(&f.qos, "qos", "q", -1, "QoS level (default mqtt.qos from config)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "how long to wait for the broker")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

// publishOnce runs a bridge just long enough to send one message. The
// bridge logs the outcome; the returned error reflects it for the exit code.
func publishOnce(ctx context.Context, cfg *config.Config, f publishFlags) error {
	if err := mqtt.ValidateTopic(f.topic); err != nil {
		return err
	}
	qos := f.qos
	if qos < 0 {
		qos = cfg.MQTT.QoS
	}
	if qos > 2 {
		return mqtt.ErrInvalidQoS
	}

	log := logging.New(cfg.Logging, version)
	q := queue.NewChannel(publishQueueCapacity)
	defer q.Close() //nolint:errcheck // in-memory queue

	bridge, err := mqtt.New(bridgeConfig(cfg), q, log.With("component", "mqtt"))
	if err != nil {
		return fmt.Errorf("creating MQTT bridge: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- bridge.Run(runCtx) }()
	defer func() {
		stop()
		<-done
	}()

	waitCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := bridge.WaitConnected(waitCtx); err != nil {
		return fmt.Errorf("waiting for broker: %w", err)
	}

	bridge.Publish(f.topic, []byte(f.payload), byte(qos))
	if bridge.Stats().Published == 0 {
		return errors.New("publish failed")
	}
	return nil
}
