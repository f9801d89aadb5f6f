package schema

// FallbackPartitionKey routes events with no fulfillment location. All events
// for one location land in the same partition and keep arrival order.
const FallbackPartitionKey = "default"

// PartitionKeyFor is a pure function of the ship-from location.
func PartitionKeyFor(shipFromLocationID string) string {
	if shipFromLocationID == "" {
		return FallbackPartitionKey
	}
	return shipFromLocationID
}

func (e *OrderCreatedEvent) Env() *Envelope { return &e.Envelope }
func (e *OrderCreatedEvent) Key() string    { return PartitionKeyFor(e.ShipFromLocationID) }

func (e *OrderStatusEvent) Env() *Envelope { return &e.Envelope }
func (e *OrderStatusEvent) Key() string    { return PartitionKeyFor(e.ShipFromLocationID) }

func (e *OrderValidationEvent) Env() *Envelope { return &e.Envelope }
func (e *OrderValidationEvent) Key() string    { return PartitionKeyFor(e.ShipFromLocationID) }
