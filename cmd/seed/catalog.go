package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
	"github.com/Sumudu01/NayanaPharma/pkg/httpclient"
)

// productSeed mirrors the body of POST /inventory/products.
type productSeed struct {
	ID           string          `json:"id"`
	SupplierID   string          `json:"supplierId,omitempty"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	InitialStock int             `json:"initialStock"`
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var starterCatalog = []productSeed{
	{ID: "para-500", SupplierID: "sup-spc", Name: "Paracetamol 500mg (10 tabs)", UnitPrice: price("25.00"), InitialStock: 400},
	{ID: "amox-250", SupplierID: "sup-spc", Name: "Amoxicillin 250mg (10 caps)", UnitPrice: price("120.00"), InitialStock: 80},
	{ID: "metf-500", SupplierID: "sup-hemas", Name: "Metformin 500mg (10 tabs)", UnitPrice: price("45.50"), InitialStock: 150},
	{ID: "ator-20", SupplierID: "sup-hemas", Name: "Atorvastatin 20mg (10 tabs)", UnitPrice: price("210.00"), InitialStock: 60},
	{ID: "cetr-10", SupplierID: "sup-spc", Name: "Cetirizine 10mg (10 tabs)", UnitPrice: price("38.75"), InitialStock: 200},
	{ID: "ors-sachet", SupplierID: "sup-jl", Name: "Oral rehydration salts sachet", UnitPrice: price("30.00"), InitialStock: 300},
	{ID: "cough-syr", SupplierID: "sup-jl", Name: "Cough syrup 100ml", UnitPrice: price("365.00"), InitialStock: 24},
	{ID: "bandage-5", SupplierID: "sup-jl", Name: "Crepe bandage 5cm", UnitPrice: price("185.00"), InitialStock: 8},
	{ID: "insulin-pen", SupplierID: "sup-hemas", Name: "Insulin glargine pen 3ml", UnitPrice: price("2450.00"), InitialStock: 5},
	{ID: "vitc-500", SupplierID: "sup-spc", Name: "Vitamin C 500mg (30 tabs)", UnitPrice: price("540.00"), InitialStock: 0},
}

// seedCatalog registers every product, counting those the service already
// holds as skipped.
func seedCatalog(ctx context.Context, client httpclient.Doer, baseURL string, products []productSeed, logger *slog.Logger) (created, skipped int, err error) {
	url := strings.TrimRight(baseURL, "/") + "/inventory/products"
	for _, p := range products {
		if err := postProduct(ctx, client, url, p); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				logger.Debug("product already registered", slog.String("product_id", p.ID))
				skipped++
				continue
			}
			return created, skipped, fmt.Errorf("register %s: %w", p.ID, err)
		}
		logger.Info("product registered",
			slog.String("product_id", p.ID),
			slog.Int("initial_stock", p.InitialStock),
		)
		created++
	}
	return created, skipped, nil
}

func postProduct(ctx context.Context, client httpclient.Doer, url string, p productSeed) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(ctx, req)
	if err != nil {
		return err
	}
	var out struct {
		ID string `json:"id"`
	}
	return httpclient.DecodeJSON(resp, &out, "pharmacy")
}
