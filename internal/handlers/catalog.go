package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agendaciudadana/citas/internal/model"
	"github.com/agendaciudadana/citas/internal/storage"
)

// Catalog is the read-only reference data the public endpoints serve.
type Catalog interface {
	ListOffices(ctx context.Context) ([]model.Office, error)
	GetOffice(ctx context.Context, officeID int64) (model.OfficeDetail, error)
	OfficeAvailability(ctx context.Context, officeID int64, date time.Time) ([]model.SlotAvailability, error)
	ListProcedures(ctx context.Context) ([]model.Procedure, error)
	GetProcedure(ctx context.Context, procedureID int64) (model.Procedure, error)
	ProcedureAvailability(ctx context.Context, procedureID int64, date time.Time) ([]model.SlotAvailability, error)
}

type CatalogHandler struct {
	catalog Catalog
	logger  *slog.Logger
}

func NewCatalogHandler(catalog Catalog, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, logger: logger}
}

type officeItem struct {
	OfficeID        int64  `json:"office_id"`
	Name            string `json:"name"`
	Address         string `json:"address"`
	Phone           string `json:"phone,omitempty"`
	TotalProcedures int    `json:"total_procedures"`
}

type procedureItem struct {
	ProcedureID          int64  `json:"procedure_id"`
	Name                 string `json:"name"`
	Description          string `json:"description,omitempty"`
	EstimatedDurationMin int    `json:"estimated_duration_minutes"`
	Cost                 string `json:"cost"`
	RequiredDocuments    string `json:"required_documents,omitempty"`
}

type officeDetailResponse struct {
	officeItem
	Procedures []procedureItem `json:"available_procedures"`
}

type slotAvailabilityItem struct {
	SlotID          int64  `json:"slot_id"`
	OfficeID        int64  `json:"office_id"`
	OfficeName      string `json:"office_name,omitempty"`
	OfficeAddress   string `json:"office_address,omitempty"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	CapacityMax     int    `json:"capacity_max"`
	SpacesAvailable int    `json:"spaces_available"`
	State           string `json:"state"`
}

func (h *CatalogHandler) ListOffices(w http.ResponseWriter, r *http.Request) {
	offices, err := h.catalog.ListOffices(r.Context())
	if err != nil {
		h.internalError(w, "list offices failed", err)
		return
	}
	items := make([]officeItem, 0, len(offices))
	for _, o := range offices {
		items = append(items, toOfficeItem(o))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *CatalogHandler) GetOffice(w http.ResponseWriter, r *http.Request) {
	officeID, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.catalog.GetOffice(r.Context(), officeID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "office not found", http.StatusNotFound)
			return
		}
		h.internalError(w, "get office failed", err)
		return
	}

	resp := officeDetailResponse{
		officeItem: toOfficeItem(detail.Office),
		Procedures: make([]procedureItem, 0, len(detail.Procedures)),
	}
	for _, p := range detail.Procedures {
		resp.Procedures = append(resp.Procedures, toProcedureItem(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CatalogHandler) OfficeAvailability(w http.ResponseWriter, r *http.Request) {
	officeID, ok := pathID(w, r)
	if !ok {
		return
	}
	date, ok := dateQuery(w, r)
	if !ok {
		return
	}
	slots, err := h.catalog.OfficeAvailability(r.Context(), officeID, date)
	if err != nil {
		h.internalError(w, "office availability failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotItems(slots))
}

func (h *CatalogHandler) ListProcedures(w http.ResponseWriter, r *http.Request) {
	procs, err := h.catalog.ListProcedures(r.Context())
	if err != nil {
		h.internalError(w, "list procedures failed", err)
		return
	}
	items := make([]procedureItem, 0, len(procs))
	for _, p := range procs {
		items = append(items, toProcedureItem(p))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *CatalogHandler) GetProcedure(w http.ResponseWriter, r *http.Request) {
	procedureID, ok := pathID(w, r)
	if !ok {
		return
	}
	proc, err := h.catalog.GetProcedure(r.Context(), procedureID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "procedure not found", http.StatusNotFound)
			return
		}
		h.internalError(w, "get procedure failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toProcedureItem(proc))
}

func (h *CatalogHandler) ProcedureAvailability(w http.ResponseWriter, r *http.Request) {
	procedureID, ok := pathID(w, r)
	if !ok {
		return
	}
	date, ok := dateQuery(w, r)
	if !ok {
		return
	}
	slots, err := h.catalog.ProcedureAvailability(r.Context(), procedureID, date)
	if err != nil {
		h.internalError(w, "procedure availability failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotItems(slots))
}

func (h *CatalogHandler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func dateQuery(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return time.Time{}, true
	}
	date, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, false
	}
	return date, true
}

func toOfficeItem(o model.Office) officeItem {
	return officeItem{
		OfficeID:        o.ID,
		Name:            o.Name,
		Address:         o.Address,
		Phone:           o.Phone,
		TotalProcedures: o.TotalProcedures,
	}
}

func toProcedureItem(p model.Procedure) procedureItem {
	return procedureItem{
		ProcedureID:          p.ID,
		Name:                 p.Name,
		Description:          p.Description,
		EstimatedDurationMin: p.EstimatedDurationMin,
		Cost:                 p.Cost,
		RequiredDocuments:    p.RequiredDocuments,
	}
}

func toSlotItems(slots []model.SlotAvailability) []slotAvailabilityItem {
	items := make([]slotAvailabilityItem, 0, len(slots))
	for _, s := range slots {
		state := "full"
		if s.Bookable() {
			state = "available"
		}
		items = append(items, slotAvailabilityItem{
			SlotID:          s.ID,
			OfficeID:        s.OfficeID,
			OfficeName:      s.OfficeName,
			OfficeAddress:   s.OfficeAddress,
			Date:            s.Date.Format("2006-01-02"),
			StartTime:       s.StartTime,
			EndTime:         s.EndTime,
			CapacityMax:     s.CapacityMax,
			SpacesAvailable: s.SpacesAvailable,
			State:           state,
		})
	}
	return items
}
