package orders

// Status is the closed lifecycle enum for an order. Validation is membership
// only: any status may move to any other, callers own the semantic ordering.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusValidated Status = "VALIDATED"
	StatusAllocated Status = "ALLOCATED"
	StatusReleased  Status = "RELEASED"
	StatusPicked    Status = "PICKED"
	StatusPacked    Status = "PACKED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
	StatusReturned  Status = "RETURNED"
)

var allStatuses = map[Status]bool{
	StatusPending:   true,
	StatusValidated: true,
	StatusAllocated: true,
	StatusReleased:  true,
	StatusPicked:    true,
	StatusPacked:    true,
	StatusShipped:   true,
	StatusDelivered: true,
	StatusCancelled: true,
	StatusReturned:  true,
}

func (s Status) Valid() bool { return allStatuses[s] }
