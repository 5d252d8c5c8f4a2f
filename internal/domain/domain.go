package domain

// VehicleType scopes a work order identity to the stock book it came from.
type VehicleType string

const (
	VehicleInspection VehicleType = "inspection"
	VehicleTradein    VehicleType = "tradein"
)

func ValidVehicleType(t VehicleType) bool {
	return t == VehicleInspection || t == VehicleTradein
}

// Mode says which channel services the work order. Exactly one of
// WorkOrder.Bay / WorkOrder.Supplier is populated, matching the mode.
type Mode string

const (
	ModeBay      Mode = "bay"
	ModeSupplier Mode = "supplier"
)

// Identity is the unique key of a work order. Immutable once created.
type Identity struct {
	VehicleType    VehicleType `json:"vehicle_type" enum:"inspection,tradein"`
	CompanyID      string      `json:"company_id"`
	VehicleStockID int64       `json:"vehicle_stock_id"`
	FieldID        string      `json:"field_id"`
}

// BayAllocation holds the bay-mode field group.
type BayAllocation struct {
	BayID          string  `json:"bay_id"`
	BookingDate    string  `json:"booking_date"`          // "2006-01-02", time of day stripped
	StartTime      string  `json:"start_time"`            // "HH:mm"
	EndTime        string  `json:"end_time"`              // "HH:mm", same day
	Description    string  `json:"description,omitempty"`
	AcceptedBy     *string `json:"accepted_by,omitempty"`
	AcceptedAt     *string `json:"accepted_at,omitempty" format:"date-time"`
	RejectedReason *string `json:"rejected_reason,omitempty"`
}

// SupplierQuote holds the supplier-mode field group.
type SupplierQuote struct {
	SelectedSuppliers []string           `json:"selected_suppliers"`
	Responses         []SupplierResponse `json:"responses,omitempty"`
	ApprovedSupplier  *string            `json:"approved_supplier,omitempty"`
	ApprovedAt        *string            `json:"approved_at,omitempty" format:"date-time"`
}

// SupplierResponse is one invited supplier's bid. At most one per
// (work order, supplier).
type SupplierResponse struct {
	WorkOrderID   string `json:"work_order_id"`
	SupplierID    string `json:"supplier_id"`
	EstimatedCost int64  `json:"estimated_cost"` // minor currency units
	EstimatedTime string `json:"estimated_time,omitempty"`
	Comments      string `json:"comments,omitempty"`
	Status        string `json:"status" enum:"pending,approved,rejected"`
	RespondedAt   string `json:"responded_at" format:"date-time"`
}

// WorkOrder is the unit of schedulable or quotable work on a vehicle field.
type WorkOrder struct {
	ID       string   `json:"id"`
	Identity Identity `json:"identity"`
	Mode     Mode     `json:"mode" enum:"bay,supplier"`
	Status   string   `json:"status" enum:"request,accepted,in_progress,review,completed,rework,rejected"`

	Bay      *BayAllocation `json:"bay,omitempty"`
	Supplier *SupplierQuote `json:"supplier,omitempty"`

	CommentSheetJSON *string `json:"comment_sheet_json,omitempty"`
	WorkStartedAt    *string `json:"work_started_at,omitempty" format:"date-time"`
	WorkSubmittedAt  *string `json:"work_submitted_at,omitempty" format:"date-time"`
	WorkCompletedAt  *string `json:"work_completed_at,omitempty" format:"date-time"`

	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Company struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Bay is a physical service resource offering time slots.
type Bay struct {
	ID        string   `json:"id"`
	CompanyID string   `json:"company_id"`
	Name      string   `json:"name"`
	Active    bool     `json:"active"`
	OpenTime  string   `json:"open_time"`  // "HH:mm"
	CloseTime string   `json:"close_time"` // "HH:mm"
	Members   []string `json:"members,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type BayHoliday struct {
	BayID  string `json:"bay_id"`
	Date   string `json:"date"` // "2006-01-02"
	Reason string `json:"reason,omitempty"`
}

type Supplier struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	Contact   string `json:"contact,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Allocation is the calendar projection of a non-terminal bay booking.
type Allocation struct {
	WorkOrderID string `json:"work_order_id"`
	BayID       string `json:"bay_id"`
	BookingDate string `json:"booking_date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Action     string `json:"action"`
	CompanyID  string `json:"company_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
