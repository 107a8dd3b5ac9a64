package enums

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeOrderConfirmation NotificationType = "order_confirmation"
	NotificationTypeOrderCancelled    NotificationType = "order_cancelled"
	NotificationTypeOrderRefunded     NotificationType = "order_refunded"
)

var notificationTypes = []NotificationType{
	NotificationTypeOrderConfirmation,
	NotificationTypeOrderCancelled,
	NotificationTypeOrderRefunded,
}

func (n NotificationType) IsValid() bool {
	_, err := ParseNotificationType(string(n))
	return err == nil
}

func ParseNotificationType(value string) (NotificationType, error) {
	return parse("notification type", value, notificationTypes)
}
