/*
Package events provides an in-memory broker for Relay's operational notifications.

Components publish notifications about things an operator wants to see as they
happen: dispatch retries and permanent failures, circuit breaker transitions,
instance registration and loss, broadcast forward failures and dead-letter
redelivery. The API server streams them to CLI clients (relay events tail) and
nothing else depends on their delivery.

# Delivery

	Publish -> eventCh (buffer 100) -> run loop -> subscriber channels (buffer 50 each)

Publish never blocks: a full broker queue or a full subscriber buffer drops the
notification for that subscriber. Domain events never travel through this broker;
they are persisted by pkg/pipeline.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Printf("%s %s\n", ev.Type, ev.Message)
	}
*/
package events
