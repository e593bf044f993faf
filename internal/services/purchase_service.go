package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/tradepost/backend/internal/audit"
	"github.com/tradepost/backend/internal/database"
	"github.com/tradepost/backend/internal/models"
)

const notificationQueue = "notification_queue"

// PurchaseService composes the ledger, inventory and bundle repricer into one
// atomic buy. Ledger debit, stock decrement, order creation and seller
// settlement all ride the same database transaction; any failure rolls the
// whole purchase back.
type PurchaseService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	inventory *InventoryService
	bundles   *BundleService
	audit     *audit.Logger
	validator *ValidationHelper
	feeRate   decimal.Decimal
	shipping  int64
}

type PurchaseRequest struct {
	ListingID       string `json:"listing_id" validate:"required"`
	VariantID       string `json:"variant_id,omitempty"`
	ShippingAddress string `json:"shipping_address" validate:"required,max=500"`
	Reference       string `json:"reference,omitempty" validate:"omitempty,max=64"`
}

func NewPurchaseService(db *sql.DB, rdb *redis.Client, ledger *LedgerService, inventory *InventoryService, bundles *BundleService) *PurchaseService {
	viper.SetDefault("platform.fee_rate", "0.05")
	viper.SetDefault("platform.shipping_cost", 500)

	feeRate, err := decimal.NewFromString(viper.GetString("platform.fee_rate"))
	if err != nil {
		log.Printf("[PURCHASE] Invalid platform.fee_rate, falling back to 0.05: %v", err)
		feeRate = decimal.NewFromFloat(0.05)
	}

	return &PurchaseService{
		db:        db,
		redis:     rdb,
		ledger:    ledger,
		inventory: inventory,
		bundles:   bundles,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
		feeRate:   feeRate,
		shipping:  viper.GetInt64("platform.shipping_cost"),
	}
}

// CreatePurchase handles a buy request
// @Summary Purchase a listing variant
// @Description Atomically debit the buyer, decrement stock, create the order and credit the seller's pending balance
// @Tags purchases
// @Accept json
// @Produce json
// @Param purchase body PurchaseRequest true "Purchase data"
// @Success 201 {object} object{order_id=string}
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /purchases [post]
func (s *PurchaseService) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req PurchaseRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// The order id is the idempotency key: client-supplied reference or a
	// fresh uuid when the client does not care about replay safety.
	orderID := req.Reference
	if orderID == "" {
		orderID = uuid.New().String()
	}

	order, replayed, err := s.Purchase(r.Context(), userID, orderID, &req)
	if err != nil {
		log.Printf("[PURCHASE] Purchase %s failed: %v", orderID, err)
		SendDomainError(w, err)
		return
	}

	if !replayed {
		s.enqueueNotifications(r.Context(), order)
	}

	w.Header().Set("Content-Type", "application/json")
	if replayed {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"order_id": order.ID,
		"total":    order.TotalAmount,
	})
}

// Purchase runs the orchestration. Returns replayed=true when orderID was
// already processed; the existing order is returned and nothing is touched.
func (s *PurchaseService) Purchase(ctx context.Context, buyerID, orderID string, req *PurchaseRequest) (*models.Order, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	if existing, err := s.findOrder(tx, orderID); err != nil {
		return nil, false, err
	} else if existing != nil {
		log.Printf("[PURCHASE] Duplicate order detected: %s", orderID)
		return existing, true, nil
	}

	listing, variant, err := s.resolveUnit(tx, req)
	if err != nil {
		return nil, false, err
	}

	total := variant.Price + s.shipping
	sellerNet := decimal.NewFromInt(total).
		Mul(decimal.NewFromInt(1).Sub(s.feeRate)).
		Round(0).
		IntPart()
	platformFee := total - sellerNet

	buyerAccount, err := s.ledger.LockAccountByUserTx(tx, buyerID)
	if err != nil {
		return nil, false, err
	}

	if _, err := s.ledger.DebitTx(tx, buyerAccount.ID, total, models.EntryPurchase, orderID); err != nil {
		return nil, false, err
	}

	stock, err := s.inventory.ReserveAndDecrementTx(tx, variant.ID)
	if err != nil {
		// Rolling back the transaction undoes the debit; the buyer is
		// never charged for an unavailable unit.
		return nil, false, err
	}

	order := &models.Order{
		ID:              orderID,
		BuyerID:         buyerID,
		SellerID:        listing.SellerID,
		ListingID:       listing.ID,
		TotalAmount:     total,
		ShippingCost:    s.shipping,
		PlatformFee:     platformFee,
		ShippingAddress: req.ShippingAddress,
		Status:          models.OrderCompleted,
		CreatedAt:       time.Now(),
	}
	if err := s.insertOrder(tx, order, variant); err != nil {
		return nil, false, err
	}

	sellerAccount, err := s.ledger.LockAccountByUserTx(tx, listing.SellerID)
	if err != nil {
		return nil, false, err
	}
	if _, err := s.ledger.CreditPendingTx(tx, sellerAccount.ID, sellerNet, models.EntrySettlement, orderID); err != nil {
		return nil, false, err
	}

	if stock.IsSold {
		if err := s.bundles.RepriceTx(tx, stock.ListingID); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	s.audit.LogOperation(orderID, buyerAccount.ID, "PURCHASE", "purchase committed")
	log.Printf("[PURCHASE] Order %s committed: buyer=%s seller=%s total=%d", orderID, buyerID, listing.SellerID, total)
	return order, false, nil
}

func (s *PurchaseService) resolveUnit(tx *sql.Tx, req *PurchaseRequest) (*models.Listing, *models.Variant, error) {
	var listing models.Listing
	err := tx.QueryRow(`
		SELECT id, seller_id, status, is_bundle
		FROM listings
		WHERE id = $1`, req.ListingID).Scan(&listing.ID, &listing.SellerID, &listing.Status, &listing.IsBundle)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	variantID := req.VariantID
	if variantID == "" {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM variants WHERE listing_id = $1`, listing.ID).Scan(&count); err != nil {
			return nil, nil, err
		}
		if count != 1 {
			return nil, nil, ErrVariantRequired
		}
		if err := tx.QueryRow(`SELECT id FROM variants WHERE listing_id = $1`, listing.ID).Scan(&variantID); err != nil {
			return nil, nil, err
		}
	}

	if listing.Status != models.ListingActive {
		return nil, nil, ErrListingNotActive
	}

	var variant models.Variant
	err = tx.QueryRow(`
		SELECT id, listing_id, price, quantity, is_available, is_sold
		FROM variants
		WHERE id = $1 AND listing_id = $2`,
		variantID, listing.ID).Scan(&variant.ID, &variant.ListingID, &variant.Price, &variant.Quantity, &variant.IsAvailable, &variant.IsSold)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return &listing, &variant, nil
}

func (s *PurchaseService) findOrder(tx *sql.Tx, orderID string) (*models.Order, error) {
	var order models.Order
	err := tx.QueryRow(`
		SELECT id, buyer_id, seller_id, listing_id, total_amount, shipping_cost, platform_fee, shipping_address, status, created_at
		FROM orders
		WHERE id = $1`, orderID).Scan(
		&order.ID, &order.BuyerID, &order.SellerID, &order.ListingID, &order.TotalAmount,
		&order.ShippingCost, &order.PlatformFee, &order.ShippingAddress, &order.Status, &order.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *PurchaseService) insertOrder(tx *sql.Tx, order *models.Order, variant *models.Variant) error {
	_, err := tx.Exec(`
		INSERT INTO orders (id, buyer_id, seller_id, listing_id, total_amount, shipping_cost, platform_fee, shipping_address, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		order.ID, order.BuyerID, order.SellerID, order.ListingID, order.TotalAmount,
		order.ShippingCost, order.PlatformFee, order.ShippingAddress, order.Status, order.CreatedAt)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO order_items (order_id, variant_id, price)
		VALUES ($1, $2, $3)`,
		order.ID, variant.ID, variant.Price)
	return err
}

// GetOrder retrieves an order by id
// @Summary Get order by ID
// @Tags purchases
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} models.Order
// @Failure 404 {object} ErrorResponse
// @Router /orders/{orderId} [get]
func (s *PurchaseService) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	orderID := chi.URLParam(r, "orderId")
	order, err := s.fetchOrder(r.Context(), orderID)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if order.BuyerID != userID && order.SellerID != userID {
		SendDomainError(w, ErrNotAuthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

func (s *PurchaseService) fetchOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, seller_id, listing_id, total_amount, shipping_cost, platform_fee, shipping_address, status, created_at
		FROM orders
		WHERE id = $1`, orderID).Scan(
		&order.ID, &order.BuyerID, &order.SellerID, &order.ListingID, &order.TotalAmount,
		&order.ShippingCost, &order.PlatformFee, &order.ShippingAddress, &order.Status, &order.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *PurchaseService) enqueueNotifications(ctx context.Context, order *models.Order) {
	// Fire-and-forget: notification failures never roll back the purchase.
	if err := database.Enqueue(ctx, s.redis, notificationQueue, map[string]any{
		"event":    "order_completed",
		"order_id": order.ID,
		"buyer":    order.BuyerID,
		"seller":   order.SellerID,
	}); err != nil {
		log.Printf("[PURCHASE] Failed to queue notification for order %s: %v", order.ID, err)
	}
	go func() {
		log.Printf("Notification: Order %s completed for buyer %s", order.ID, order.BuyerID)
	}()
}
