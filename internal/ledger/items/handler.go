package items

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
	"github.com/KantanPro/ktp-ledger/internal/ledger/export"
	"github.com/KantanPro/ktp-ledger/internal/observability"
	"github.com/KantanPro/ktp-ledger/internal/platform/httpx"
	"github.com/KantanPro/ktp-ledger/internal/shared"
	"github.com/KantanPro/ktp-ledger/internal/suppliers"
)

// SupplierProfiles reads and edits supplier tax attributes.
type SupplierProfiles interface {
	SupplierTaxProfile(ctx context.Context, id int64) (ledger.SupplierTaxProfile, error)
	UpdateTaxProfile(ctx context.Context, id int64, update suppliers.TaxProfileUpdate) (ledger.SupplierTaxProfile, error)
}

// Handler serves the AJAX endpoint and ledger exports.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	suppliers SupplierProfiles
	exporter  *export.Service
	validator *validator.Validate
	actions   map[string]http.HandlerFunc
}

// NewHandler constructs a Handler instance. suppliers and exporter may be nil.
func NewHandler(logger *slog.Logger, service *Service, profiles SupplierProfiles, exporter *export.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		logger:    logger,
		service:   service,
		suppliers: profiles,
		exporter:  exporter,
		validator: validator.New(),
	}
	h.actions = map[string]http.HandlerFunc{
		ActionCreateItem:               h.createItem,
		ActionUpdateItem:               h.updateItem,
		ActionDeleteItem:               h.deleteItem,
		ActionReorderItems:             h.reorderItems,
		ActionListItems:                h.listItems,
		ActionSupplierTaxProfile:       h.supplierTaxProfile,
		ActionUpdateSupplierTaxProfile: h.updateSupplierTaxProfile,
		ActionOrderTotals:              h.orderTotals,
	}
	return h
}

// MountRoutes registers the AJAX dispatcher. Callers wrap it with nonce verification.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/ajax", h.dispatch)
}

// MountExportRoutes registers the download routes.
func (h *Handler) MountExportRoutes(r chi.Router) {
	r.Get("/orders/{orderID}/export.{format}", h.exportOrder)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.Failure(w, http.StatusBadRequest, "validation", "malformed form body")
		return
	}
	action := r.PostFormValue("action")
	handle, ok := h.actions[action]
	if !ok {
		httpx.Failure(w, http.StatusBadRequest, "unknown_action", fmt.Sprintf("unknown action %q", action))
		return
	}
	observability.SetAction(r.Context(), action)
	handle(w, r)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	form := createItemForm{
		OrderID:    formInt(r, "order_id"),
		ItemType:   r.PostFormValue("item_type"),
		FieldName:  r.PostFormValue("field_name"),
		FieldValue: r.PostFormValue("field_value"),
		ClientKey:  r.PostFormValue("client_key"),
	}
	if err := validate(h.validator, form); err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.service.CreateItem(r.Context(), ledger.CreateItemRequest{
		Type:      ledger.ItemType(form.ItemType),
		OrderID:   form.OrderID,
		Field:     ledger.Field(form.FieldName),
		Value:     form.FieldValue,
		ClientKey: form.ClientKey,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Success(w, map[string]int64{"item_id": id})
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	form := updateItemForm{
		OrderID:    formInt(r, "order_id"),
		ItemType:   r.PostFormValue("item_type"),
		ItemID:     formInt(r, "item_id"),
		FieldName:  r.PostFormValue("field_name"),
		FieldValue: r.PostFormValue("field_value"),
	}
	if err := validate(h.validator, form); err != nil {
		h.fail(w, r, err)
		return
	}
	err := h.service.UpdateItem(r.Context(), ledger.ItemType(form.ItemType), form.ItemID,
		ledger.Field(form.FieldName), form.FieldValue, form.OrderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Success(w, map[string]int64{"item_id": form.ItemID})
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	form := deleteItemForm{
		OrderID:  formInt(r, "order_id"),
		ItemType: r.PostFormValue("item_type"),
		ItemID:   formInt(r, "item_id"),
	}
	if err := validate(h.validator, form); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteItem(r.Context(), ledger.ItemType(form.ItemType), form.ItemID, form.OrderID); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Success(w, map[string]int64{"item_id": form.ItemID})
}

func (h *Handler) reorderItems(w http.ResponseWriter, r *http.Request) {
	entries, err := decodeReorderEntries(r.PostFormValue("items"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	form := reorderForm{
		OrderID:  formInt(r, "order_id"),
		ItemType: r.PostFormValue("item_type"),
		Items:    entries,
	}
	if err := validate(h.validator, form); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.ReorderItems(r.Context(), ledger.ItemType(form.ItemType), form.OrderID, form.positions()); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Success(w, map[string]int{"count": len(form.Items)})
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	form := listItemsForm{
		OrderID:  formInt(r, "order_id"),
		ItemType: r.PostFormValue("item_type"),
	}
	if err := validate(h.validator, form); err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.service.ListItems(r.Context(), form.OrderID, ledger.ItemType(form.ItemType))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []ledger.LineItem{}
	}
	httpx.Success(w, map[string]any{"items": rows})
}

func (h *Handler) supplierTaxProfile(w http.ResponseWriter, r *http.Request) {
	if h.suppliers == nil {
		httpx.Failure(w, http.StatusNotImplemented, "unavailable", "supplier lookup not configured")
		return
	}
	form := supplierForm{SupplierID: formInt(r, "supplier_id")}
	if err := validate(h.validator, form); err != nil {
		h.fail(w, r, err)
		return
	}
	profile, err := h.suppliers.SupplierTaxProfile(r.Context(), form.SupplierID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Success(w, profile)
}

func (h *Handler) updateSupplierTaxProfile(w http.ResponseWriter, r *http.Request) {
	if h.suppliers == nil {
		httpx.Failure(w, http.StatusNotImplemented, "unavailable", "supplier lookup not configured")
		return
	}
	form := supplierProfileForm{
		SupplierID:             formInt(r, "supplier_id"),
		TaxCategory:            r.PostFormValue("tax_category"),
		QualifiedInvoiceNumber: r.PostFormValue("qualified_invoice_number"),
	}
	if err := validate(h.validator, form); err != nil {
		h.fail(w, r, err)
		return
	}
	profile, err := h.suppliers.UpdateTaxProfile(r.Context(), form.SupplierID, suppliers.TaxProfileUpdate{
		TaxCategory:            ledger.TaxCategory(form.TaxCategory),
		QualifiedInvoiceNumber: form.QualifiedInvoiceNumber,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Success(w, profile)
}

func (h *Handler) orderTotals(w http.ResponseWriter, r *http.Request) {
	form := orderForm{OrderID: formInt(r, "order_id")}
	if err := validate(h.validator, form); err != nil {
		h.fail(w, r, err)
		return
	}
	totals, err := h.service.OrderTotals(r.Context(), form.OrderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Success(w, totals)
}

func (h *Handler) exportOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID <= 0 {
		http.Error(w, "Invalid order ID", http.StatusBadRequest)
		return
	}
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.exporter == nil {
		http.Error(w, "Export not configured", http.StatusNotImplemented)
		return
	}

	order, err := h.service.Order(ctx, orderID)
	if err != nil {
		h.exportError(w, err, orderID)
		return
	}
	rows, err := h.service.ListItems(ctx, orderID, "")
	if err != nil {
		h.exportError(w, err, orderID)
		return
	}
	totals, err := h.service.OrderTotals(ctx, orderID)
	if err != nil {
		h.exportError(w, err, orderID)
		return
	}
	doc := export.Document{OrderID: order.ID, Title: order.Title, ClientName: order.ClientName, Totals: totals}
	for _, row := range rows {
		if row.Type == ledger.ItemTypeCost {
			doc.Cost = append(doc.Cost, row)
		} else {
			doc.Invoice = append(doc.Invoice, row)
		}
	}

	var buf bytes.Buffer
	if err := h.exporter.Export(ctx, format, doc, &buf); err != nil {
		h.exportError(w, err, orderID)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, doc.Filename(format)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) exportError(w http.ResponseWriter, err error, orderID int64) {
	status, _ := httpx.Classify(mapError(err))
	if status == http.StatusInternalServerError {
		h.logger.Error("export order", slog.Int64("order_id", orderID), slog.Any("error", err))
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	mapped := mapError(err)
	if status, _ := httpx.Classify(mapped); status == http.StatusInternalServerError {
		h.logger.Error("ajax action failed",
			slog.String("action", r.PostFormValue("action")),
			slog.String("session_id", shared.SessionIDFromContext(r.Context())),
			slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

// mapError translates domain sentinels into the HTTP taxonomy, keeping the message.
func mapError(err error) error {
	var target error
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrOrderNotFound), errors.Is(err, suppliers.ErrNotFound):
		target = httpx.ErrNotFound
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrReadOnlyField),
		errors.Is(err, ledger.ErrUnknownField), errors.Is(err, ledger.ErrRowPending),
		errors.Is(err, ledger.ErrNoOrder), errors.Is(err, suppliers.ErrInvalidProfile),
		errors.Is(err, export.ErrUnsupportedFormat):
		target = httpx.ErrValidation
	case errors.Is(err, shared.ErrLockBusy), errors.Is(err, ledger.ErrInProgress):
		target = httpx.ErrConflict
	case errors.Is(err, shared.ErrNonceMissing), errors.Is(err, shared.ErrNonceInvalid):
		target = httpx.ErrUnauthorized
	default:
		return err
	}
	if errors.Is(err, target) {
		return err
	}
	return fmt.Errorf("%w: %w", target, err)
}
