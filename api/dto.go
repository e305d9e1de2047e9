/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the stock core's types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done by the stock core (stock.ValidateLine), not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// QUANTITIES
// =============================================================================

type QuantityDTO struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
	AsOf     string `json:"as_of"`
}

type QuantitiesDTO struct {
	AsOf       string         `json:"as_of"`
	Mode       string         `json:"mode"`
	Source     string         `json:"source,omitempty"`
	Quantities map[string]int `json:"quantities"`
}

// =============================================================================
// LEDGER
// =============================================================================

type EntryDTO struct {
	ID             string `json:"id"`
	ItemCode       string `json:"item_code"`
	Kind           string `json:"kind"`
	Quantity       int    `json:"quantity"`
	Timestamp      string `json:"timestamp"`
	Actor          string `json:"actor,omitempty"`
	Note           string `json:"note,omitempty"`
	QuantityBefore *int   `json:"quantity_before,omitempty"`
	QuantityAfter  *int   `json:"quantity_after,omitempty"`
}

func toEntryDTO(e stock.Entry) EntryDTO {
	return EntryDTO{
		ID:             string(e.ID),
		ItemCode:       e.ItemCode,
		Kind:           string(e.Kind),
		Quantity:       e.Quantity,
		Timestamp:      e.Timestamp.Format(time.RFC3339Nano),
		Actor:          e.Actor,
		Note:           e.Note,
		QuantityBefore: e.QuantityBefore,
		QuantityAfter:  e.QuantityAfter,
	}
}

type LineDTO struct {
	ItemCode string `json:"item_code"`
	Kind     string `json:"kind"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

// SubmitTransactionRequest is a business transaction with one or more lines.
type SubmitTransactionRequest struct {
	Actor string    `json:"actor"`
	Note  string    `json:"note,omitempty"`
	Lines []LineDTO `json:"lines"`
}

func (r SubmitTransactionRequest) transaction() stock.Transaction {
	tx := stock.Transaction{Actor: r.Actor, Note: r.Note}
	for _, l := range r.Lines {
		tx.Lines = append(tx.Lines, stock.Line{
			ItemCode: l.ItemCode,
			Kind:     stock.Kind(l.Kind),
			Quantity: l.Quantity,
			Note:     l.Note,
		})
	}
	return tx
}

type SubmitTransactionResponse struct {
	EntryIDs []string `json:"entry_ids"`
}

type EditEntryRequest struct {
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

type ItemDTO struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    string `json:"price"`
	Unit     string `json:"unit,omitempty"`
}

func toItemDTO(it stock.Item) ItemDTO {
	return ItemDTO{
		Code:     it.Code,
		Name:     it.Name,
		Category: it.Category,
		Price:    it.Price.StringFixed(2),
		Unit:     it.Unit,
	}
}

func (d ItemDTO) item() (stock.Item, error) {
	price := decimal.Zero
	if d.Price != "" {
		p, err := decimal.NewFromString(d.Price)
		if err != nil {
			return stock.Item{}, &stock.ValidationError{Line: -1, Field: "price", Reason: err.Error()}
		}
		price = p
	}
	return stock.Item{Code: d.Code, Name: d.Name, Category: d.Category, Price: price, Unit: d.Unit}, nil
}

type SaveItemResponse struct {
	Item   ItemDTO `json:"item"`
	Action string  `json:"action"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	// Committed lists entries appended before a partial failure.
	Committed []string `json:"committed,omitempty"`
}
