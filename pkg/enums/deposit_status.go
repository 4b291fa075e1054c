package enums

import "fmt"

// DepositStatus tracks the security-deposit sub-lifecycle of an order.
type DepositStatus string

const (
	DepositStatusPending           DepositStatus = "PENDING"
	DepositStatusCaptured          DepositStatus = "CAPTURED"
	DepositStatusReleased          DepositStatus = "RELEASED"
	DepositStatusPartiallyRetained DepositStatus = "PARTIALLY_RETAINED"
)

var validDepositStatuses = []DepositStatus{
	DepositStatusPending,
	DepositStatusCaptured,
	DepositStatusReleased,
	DepositStatusPartiallyRetained,
}

// String implements fmt.Stringer.
func (d DepositStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DepositStatus.
func (d DepositStatus) IsValid() bool {
	for _, candidate := range validDepositStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDepositStatus converts raw input into a DepositStatus.
func ParseDepositStatus(value string) (DepositStatus, error) {
	for _, candidate := range validDepositStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid deposit status %q", value)
}
