package enum

// CartEventType 表示購物車事件的類型
type CartEventType string

const (
	CartEventTypeRestored    CartEventType = "restored"
	CartEventTypeAdded       CartEventType = "added"
	CartEventTypeIncremented CartEventType = "incremented"
	CartEventTypeDecremented CartEventType = "decremented"
	CartEventTypeRemoved     CartEventType = "removed"
)

// Valid reports whether t is one of the known event types.
func (t CartEventType) Valid() bool {
	switch t {
	case CartEventTypeRestored, CartEventTypeAdded, CartEventTypeIncremented,
		CartEventTypeDecremented, CartEventTypeRemoved:
		return true
	}
	return false
}
