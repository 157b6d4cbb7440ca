package service

import "recipe-sync-server/internal/domain"

// Notifier pushes sync events to the user's other connected devices.
// Delivery is best effort.
type Notifier interface {
	NotifyChange(userID, originDeviceID string, change domain.ChangeRecord)
	NotifyConflict(userID, originDeviceID string, conflict *domain.SyncConflict)
}
