package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDLQ(t *testing.T) (*mocks.SyncProducer, *DLQProducer) {
	t.Helper()

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)

	return producer, NewDLQProducerWith(producer, "product-events-dlq", testLogger(), nil)
}

func TestDLQPublishRecordShape(t *testing.T) {
	producer, dlq := newMockDLQ(t)
	defer producer.Close()

	before := time.Now().Unix()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var record dlqRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		if record.OriginalEvent != `{definitely not json` {
			return fmt.Errorf("original event not preserved verbatim: %q", record.OriginalEvent)
		}
		if record.ErrorReason != "parse error: invalid JSON" {
			return fmt.Errorf("unexpected reason: %q", record.ErrorReason)
		}
		if record.Timestamp < before {
			return fmt.Errorf("timestamp not set")
		}
		return nil
	})

	err := dlq.Publish(context.Background(), []byte(`{definitely not json`), "parse error: invalid JSON")
	require.NoError(t, err)
}

func TestDLQPublishFailure(t *testing.T) {
	producer, dlq := newMockDLQ(t)
	defer producer.Close()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := dlq.Publish(context.Background(), []byte(`{}`), "processing failed after retries: boom")
	assert.Error(t, err)
}
