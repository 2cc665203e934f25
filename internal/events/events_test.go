package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher(t *testing.T) {
	pub := &MemoryPublisher{}

	require.NoError(t, pub.Publish(TopicBillCreated, map[string]any{"bill_id": int64(1)}))
	require.NoError(t, pub.Publish(TopicPaymentReceived, map[string]any{"payment_id": int64(1)}))
	require.NoError(t, pub.Publish(TopicBillCreated, map[string]any{"bill_id": int64(2)}))

	all := pub.Events()
	require.Len(t, all, 3)
	require.NotEmpty(t, all[0].ID)
	require.NotEqual(t, all[0].ID, all[1].ID)

	bills := pub.ByTopic(TopicBillCreated)
	require.Len(t, bills, 2)
	require.Equal(t, int64(2), bills[1].Payload["bill_id"])
}
