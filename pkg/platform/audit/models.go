package audit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRecord is returned when a record carries a value outside the
// known enumerations or breaks a structural invariant.
var ErrInvalidRecord = errors.New("invalid audit record")

// Action names what was done. The set is closed; new actions are added here.
type Action string

const (
	ActionCreate              Action = "CREATE"
	ActionUpdate              Action = "UPDATE"
	ActionDelete              Action = "DELETE"
	ActionLogin               Action = "LOGIN"
	ActionLogout              Action = "LOGOUT"
	ActionLoginFailed         Action = "LOGIN_FAILED"
	ActionPasswordChange      Action = "PASSWORD_CHANGE"
	ActionPermissionChange    Action = "PERMISSION_CHANGE"
	ActionPaymentStatusChange Action = "PAYMENT_STATUS_CHANGE"
	ActionOrderStatusChange   Action = "ORDER_STATUS_CHANGE"
	ActionExport              Action = "EXPORT"
	ActionView                Action = "VIEW"
)

var actions = map[Action]struct{}{
	ActionCreate:              {},
	ActionUpdate:              {},
	ActionDelete:              {},
	ActionLogin:               {},
	ActionLogout:              {},
	ActionLoginFailed:         {},
	ActionPasswordChange:      {},
	ActionPermissionChange:    {},
	ActionPaymentStatusChange: {},
	ActionOrderStatusChange:   {},
	ActionExport:              {},
	ActionView:                {},
}

// Valid reports whether the action belongs to the known set.
func (a Action) Valid() bool {
	_, ok := actions[a]
	return ok
}

// Entity names the business object type an action affected.
type Entity string

const (
	EntityOrder     Entity = "ORDER"
	EntityUser      Entity = "USER"
	EntityProduct   Entity = "PRODUCT"
	EntityCategory  Entity = "CATEGORY"
	EntityCart      Entity = "CART"
	EntityPayment   Entity = "PAYMENT"
	EntityInventory Entity = "INVENTORY"
	EntitySession   Entity = "SESSION"
	EntitySettings  Entity = "SETTINGS"
)

var entities = map[Entity]struct{}{
	EntityOrder:     {},
	EntityUser:      {},
	EntityProduct:   {},
	EntityCategory:  {},
	EntityCart:      {},
	EntityPayment:   {},
	EntityInventory: {},
	EntitySession:   {},
	EntitySettings:  {},
}

// Valid reports whether the entity belongs to the known set.
func (e Entity) Valid() bool {
	_, ok := entities[e]
	return ok
}

// Status is the outcome of the audited operation.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Valid reports whether the status is SUCCESS or FAILURE.
func (s Status) Valid() bool {
	return s == StatusSuccess || s == StatusFailure
}

// ParseAction normalizes and validates an action name (case-insensitive).
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidRecord, s)
	}
	return a, nil
}

// ParseEntity normalizes and validates an entity name (case-insensitive).
func ParseEntity(s string) (Entity, error) {
	e := Entity(strings.ToUpper(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("%w: unknown entity %q", ErrInvalidRecord, s)
	}
	return e, nil
}

// Fields is a JSON-like structured value: strings, numbers, bools, nil,
// nested Fields/map[string]any and []any. It is what encoding/json produces
// for an object, so snapshots round-trip through JSON stores unchanged.
type Fields map[string]any

// Change captures a single field transition.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Record is the persisted audit unit. It is append-only: ID, CreatedAt and
// Hash are stamped by the store and never rewritten.
type Record struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id,omitempty"`
	ActorRole  string `json:"actor_role,omitempty"`
	ActorEmail string `json:"actor_email,omitempty"`

	Action   Action `json:"action"`
	Entity   Entity `json:"entity"`
	EntityID string `json:"entity_id,omitempty"`

	Before  Fields            `json:"before,omitempty"`
	After   Fields            `json:"after,omitempty"`
	Changes map[string]Change `json:"changes,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Metadata     Fields `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	Hash      string    `json:"hash,omitempty"`
}

// Validate enforces the enumeration and status invariants.
func (r Record) Validate() error {
	if !r.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRecord, r.Action)
	}
	if !r.Entity.Valid() {
		return fmt.Errorf("%w: unknown entity %q", ErrInvalidRecord, r.Entity)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	if r.Status == StatusFailure && strings.TrimSpace(r.ErrorMessage) == "" {
		return fmt.Errorf("%w: failure record requires an error message", ErrInvalidRecord)
	}
	if r.Status == StatusSuccess && r.ErrorMessage != "" {
		return fmt.Errorf("%w: error message on a successful record", ErrInvalidRecord)
	}
	return nil
}

// Clone returns a deep copy of r: snapshots, metadata and changes share no maps or slices with
// the original.
func (r Record) Clone() Record {
	r.Before = cloneFields(r.Before)
	r.After = cloneFields(r.After)
	r.Metadata = cloneFields(r.Metadata)
	if r.Changes != nil {
		changes := make(map[string]Change, len(r.Changes))
		for k, c := range r.Changes {
			changes[k] = Change{From: cloneValue(c.From), To: cloneValue(c.To)}
		}
		r.Changes = changes
	}
	return r
}

func cloneFields(f Fields) Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Fields:
		return cloneFields(t)
	case map[string]any:
		return map[string]any(cloneFields(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
