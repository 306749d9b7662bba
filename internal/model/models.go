package model

// All returns every model for migration.
func All() []any {
	return []any{
		&User{},
		&Device{},
		&Reading{},
		&Farm{},
		&Invite{},
		&PushSubscription{},
	}
}
