package domain

import "github.com/shopspring/decimal"

// CatalogItem is the product metadata the catalog collaborator supplies.
type CatalogItem struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	SupplierID string          `json:"supplierId,omitempty"`
	Status     ProductStatus   `json:"status"`
}

// CatalogItemFromProduct projects a stocked product onto catalog metadata.
func CatalogItemFromProduct(p *Product) *CatalogItem {
	return &CatalogItem{
		ID:         p.ID,
		Name:       p.Name,
		UnitPrice:  p.UnitPrice,
		SupplierID: p.SupplierID,
		Status:     p.Status,
	}
}

// Customer is a record from the customer directory.
type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
