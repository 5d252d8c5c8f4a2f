package server

import (
	"encoding/json"

	"bayline/internal/config"
	"bayline/internal/domain"
)

// Request payloads

type CreateCompanyRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type UpsertWorkOrderRequest struct {
	VehicleType    string `json:"vehicle_type" enum:"inspection,tradein"`
	VehicleStockID int64  `json:"vehicle_stock_id"`
	FieldID        string `json:"field_id"`
	Mode           string `json:"mode" enum:"bay,supplier"`

	BayID       *string `json:"bay_id,omitempty"`
	BookingDate *string `json:"booking_date,omitempty"`
	StartTime   *string `json:"start_time,omitempty"`
	EndTime     *string `json:"end_time,omitempty"`
	Description *string `json:"description,omitempty"`

	SelectedSuppliers []string `json:"selected_suppliers,omitempty"`
}

type RejectBookingRequest struct {
	Reason string `json:"reason"`
}

type CommentSheetRequest struct {
	Sheet  map[string]any `json:"sheet"`
	Submit bool           `json:"submit,omitempty"`
}

type ReworkRequest struct {
	Note string `json:"note,omitempty"`
}

type RebookRequest struct {
	BayID       string  `json:"bay_id"`
	BookingDate string  `json:"booking_date"`
	StartTime   string  `json:"start_time"`
	EndTime     string  `json:"end_time"`
	Description *string `json:"description,omitempty"`
}

type InviteSuppliersRequest struct {
	Suppliers []string `json:"suppliers"`
}

type SupplierResponseRequest struct {
	SupplierID    string  `json:"supplier_id"`
	EstimatedCost int64   `json:"estimated_cost"`
	EstimatedTime *string `json:"estimated_time,omitempty"`
	Comments      *string `json:"comments,omitempty"`
}

type ApproveSupplierRequest struct {
	SupplierID string `json:"supplier_id"`
}

type CreateBayRequest struct {
	ID        *string `json:"id,omitempty"`
	Name      string  `json:"name"`
	OpenTime  *string `json:"open_time,omitempty"`
	CloseTime *string `json:"close_time,omitempty"`
}

type BayActiveRequest struct {
	Active bool `json:"active"`
}

type BayMemberRequest struct {
	ActorID string `json:"actor_id"`
}

type BayHolidayRequest struct {
	Date   string  `json:"date"`
	Reason *string `json:"reason,omitempty"`
}

type CreateSupplierRequest struct {
	ID      *string `json:"id,omitempty"`
	Name    string  `json:"name"`
	Contact *string `json:"contact,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type DevLoginRequest struct {
	ActorID   string   `json:"actor_id"`
	CompanyID string   `json:"company_id"`
	Roles     []string `json:"roles,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type CompanyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type BayAllocationResponse struct {
	BayID          string  `json:"bay_id"`
	BookingDate    string  `json:"booking_date"`
	StartTime      string  `json:"start_time"`
	EndTime        string  `json:"end_time"`
	Description    string  `json:"description,omitempty"`
	AcceptedBy     *string `json:"accepted_by,omitempty"`
	AcceptedAt     *string `json:"accepted_at,omitempty" format:"date-time"`
	RejectedReason *string `json:"rejected_reason,omitempty"`
}

type SupplierResponseResponse struct {
	SupplierID    string `json:"supplier_id"`
	EstimatedCost int64  `json:"estimated_cost"`
	EstimatedTime string `json:"estimated_time,omitempty"`
	Comments      string `json:"comments,omitempty"`
	Status        string `json:"status" enum:"pending,approved,rejected"`
	RespondedAt   string `json:"responded_at" format:"date-time"`
}

type SupplierQuoteResponse struct {
	SelectedSuppliers []string                   `json:"selected_suppliers"`
	Responses         []SupplierResponseResponse `json:"responses"`
	ApprovedSupplier  *string                    `json:"approved_supplier,omitempty"`
	ApprovedAt        *string                    `json:"approved_at,omitempty" format:"date-time"`
}

type WorkOrderResponse struct {
	ID             string `json:"id"`
	VehicleType    string `json:"vehicle_type" enum:"inspection,tradein"`
	CompanyID      string `json:"company_id"`
	VehicleStockID int64  `json:"vehicle_stock_id"`
	FieldID        string `json:"field_id"`
	Mode           string `json:"mode" enum:"bay,supplier"`
	Status         string `json:"status" enum:"request,accepted,in_progress,review,completed,rework,rejected"`

	Bay      *BayAllocationResponse `json:"bay,omitempty"`
	Supplier *SupplierQuoteResponse `json:"supplier,omitempty"`

	CommentSheet    map[string]any `json:"comment_sheet,omitempty"`
	WorkStartedAt   *string        `json:"work_started_at,omitempty" format:"date-time"`
	WorkSubmittedAt *string        `json:"work_submitted_at,omitempty" format:"date-time"`
	WorkCompletedAt *string        `json:"work_completed_at,omitempty" format:"date-time"`

	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type BayResponse struct {
	ID        string   `json:"id"`
	CompanyID string   `json:"company_id"`
	Name      string   `json:"name"`
	Active    bool     `json:"active"`
	OpenTime  string   `json:"open_time"`
	CloseTime string   `json:"close_time"`
	Members   []string `json:"members"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type BayHolidayResponse struct {
	BayID  string `json:"bay_id"`
	Date   string `json:"date"`
	Reason string `json:"reason,omitempty"`
}

type SupplierDirectoryResponse struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	Contact   string `json:"contact,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type AllocationResponse struct {
	WorkOrderID string `json:"work_order_id"`
	BayID       string `json:"bay_id"`
	BookingDate string `json:"booking_date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
}

type AvailabilityResponse struct {
	BayID       string `json:"bay_id"`
	BookingDate string `json:"booking_date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Available   bool   `json:"available"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Action     string         `json:"action"`
	CompanyID  string         `json:"company_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	CompanyID   string   `json:"company_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type CompanyConfigResponse struct {
	Company companyConfigSection `json:"company"`
	Booking bookingConfigSection `json:"booking"`
	Roles   map[string]roleConfigSection `json:"roles"`
}

type companyConfigSection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type bookingConfigSection struct {
	DayOpen  string `json:"day_open"`
	DayClose string `json:"day_close"`
}

type roleConfigSection struct {
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type paginatedWorkOrders struct {
	Items      []WorkOrderResponse `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func companyResponse(c domain.Company) CompanyResponse {
	return CompanyResponse(c)
}

func workOrderResponse(w domain.WorkOrder) WorkOrderResponse {
	res := WorkOrderResponse{
		ID:             w.ID,
		VehicleType:    string(w.Identity.VehicleType),
		CompanyID:      w.Identity.CompanyID,
		VehicleStockID: w.Identity.VehicleStockID,
		FieldID:        w.Identity.FieldID,
		Mode:           string(w.Mode),
		Status:         w.Status,
		CommentSheet:   decodeJSONMap(w.CommentSheetJSON),
		WorkStartedAt:  w.WorkStartedAt,
		WorkSubmittedAt: w.WorkSubmittedAt,
		WorkCompletedAt: w.WorkCompletedAt,
		CreatedBy:      w.CreatedBy,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
	if w.Bay != nil {
		b := BayAllocationResponse(*w.Bay)
		res.Bay = &b
	}
	if w.Supplier != nil {
		q := SupplierQuoteResponse{
			SelectedSuppliers: nonNilSlice(w.Supplier.SelectedSuppliers),
			Responses:         []SupplierResponseResponse{},
			ApprovedSupplier:  w.Supplier.ApprovedSupplier,
			ApprovedAt:        w.Supplier.ApprovedAt,
		}
		for _, r := range w.Supplier.Responses {
			q.Responses = append(q.Responses, supplierResponseResponse(r))
		}
		res.Supplier = &q
	}
	return res
}

func supplierResponseResponse(r domain.SupplierResponse) SupplierResponseResponse {
	return SupplierResponseResponse{
		SupplierID:    r.SupplierID,
		EstimatedCost: r.EstimatedCost,
		EstimatedTime: r.EstimatedTime,
		Comments:      r.Comments,
		Status:        r.Status,
		RespondedAt:   r.RespondedAt,
	}
}

func bayResponse(b domain.Bay) BayResponse {
	return BayResponse{
		ID:        b.ID,
		CompanyID: b.CompanyID,
		Name:      b.Name,
		Active:    b.Active,
		OpenTime:  b.OpenTime,
		CloseTime: b.CloseTime,
		Members:   nonNilSlice(b.Members),
		CreatedAt: b.CreatedAt,
	}
}

func supplierResponse(s domain.Supplier) SupplierDirectoryResponse {
	return SupplierDirectoryResponse(s)
}

func allocationResponse(a domain.Allocation) AllocationResponse {
	return AllocationResponse(a)
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Action:     e.Action,
		CompanyID:  e.CompanyID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func configResponse(cfg *config.Config) CompanyConfigResponse {
	res := CompanyConfigResponse{
		Company: companyConfigSection{
			ID:   cfg.Company.ID,
			Name: cfg.Company.Name,
		},
		Booking: bookingConfigSection{
			DayOpen:  cfg.Booking.DayOpen,
			DayClose: cfg.Booking.DayClose,
		},
		Roles: map[string]roleConfigSection{},
	}
	for id, role := range cfg.RBAC.Roles {
		res.Roles[id] = roleConfigSection{
			Description: role.Description,
			Permissions: nonNilSlice(role.Permissions),
		}
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtr(in string) *string {
	return &in
}
