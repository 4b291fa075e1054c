package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeOrderCreated        NotificationType = "ORDER_CREATED"
	NotificationTypeOrderStatusChanged  NotificationType = "ORDER_STATUS_CHANGED"
	NotificationTypePaymentReceived     NotificationType = "PAYMENT_RECEIVED"
	NotificationTypeInstallmentReminder NotificationType = "INSTALLMENT_REMINDER"
	NotificationTypeDepositUpdate       NotificationType = "DEPOSIT_UPDATE"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderCreated,
	NotificationTypeOrderStatusChanged,
	NotificationTypePaymentReceived,
	NotificationTypeInstallmentReminder,
	NotificationTypeDepositUpdate,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
