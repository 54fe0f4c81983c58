package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testNotificationForEngagement() *Notification {
	return NewNotification(
		TypeSystemAlert,
		PriorityHigh,
		Content{Subject: "s", Body: "b"},
		[]Recipient{{UserID: "user-1"}},
		[]Channel{ChannelEmail},
	)
}

func TestNotification_MarkOpened(t *testing.T) {
	n := testNotificationForEngagement()
	assert.Nil(t, n.OpenedAt)

	n.MarkOpened()
	firstOpen := n.OpenedAt
	assert.NotNil(t, firstOpen)

	n.MarkOpened()
	assert.Equal(t, firstOpen, n.OpenedAt, "second open must not move the first-touch timestamp")
}

func TestNotification_MarkClicked(t *testing.T) {
	n := testNotificationForEngagement()
	assert.Nil(t, n.OpenedAt)
	assert.Nil(t, n.ClickedAt)

	n.MarkClicked()

	assert.NotNil(t, n.OpenedAt, "a click implies an open")
	assert.NotNil(t, n.ClickedAt)
	assert.Equal(t, n.OpenedAt, n.ClickedAt)
}

func TestNotification_MarkClicked_PreservesEarlierOpen(t *testing.T) {
	n := testNotificationForEngagement()
	n.MarkOpened()
	openedAt := n.OpenedAt

	n.MarkClicked()

	assert.Equal(t, openedAt, n.OpenedAt)
	assert.NotNil(t, n.ClickedAt)
}
