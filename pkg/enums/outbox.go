package enums

// OutboxEventType enumerates domain events handed to the notification workers.
type OutboxEventType string

const (
	EventOrderReserved  OutboxEventType = "order.reserved"
	EventOrderFulfilled OutboxEventType = "order.fulfilled"
	EventOrderExpired   OutboxEventType = "order.expired"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
)
