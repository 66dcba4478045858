package feed

import (
	"testing"

	"github.com/promatch/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestFilterMatch(t *testing.T) {
	msg := MessageEvent(OpInsert, model.Message{ID: "m1", SenderID: "r", ReceiverID: "c"})
	notif := NotificationEvent(OpInsert, model.Notification{ID: "n1", UserID: "c"})

	assert.True(t, Filter{Table: TableMessages, Op: OpInsert, Column: ColumnReceiver, Value: "c"}.Match(msg))
	assert.True(t, Filter{Table: TableMessages, Column: ColumnSender, Value: "r"}.Match(msg))
	assert.False(t, Filter{Table: TableMessages, Op: OpUpdate, Column: ColumnReceiver, Value: "c"}.Match(msg))
	assert.False(t, Filter{Table: TableMessages, Column: ColumnReceiver, Value: "r"}.Match(msg))
	assert.False(t, Filter{Table: TableNotifications, Column: ColumnUser, Value: "c"}.Match(msg))
	assert.False(t, Filter{Table: TableMessages, Column: ColumnReceiver}.Match(MessageEvent(OpInsert, model.Message{})))

	assert.True(t, Filter{Table: TableNotifications, Op: OpInsert, Column: ColumnUser, Value: "c"}.Match(notif))
	assert.False(t, Filter{Table: TableNotifications, Column: ColumnReceiver, Value: "c"}.Match(notif))
}

func TestEventColumns(t *testing.T) {
	assert.Equal(t, []Column{ColumnReceiver, ColumnSender}, MessageEvent(OpUpdate, model.Message{}).Columns())
	assert.Equal(t, []Column{ColumnUser}, NotificationEvent(OpInsert, model.Notification{}).Columns())
	assert.Nil(t, Event{Table: "other"}.Columns())
}
