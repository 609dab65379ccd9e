// Package catalog resolves product metadata and customer references from the
// local store or from collaborator services over HTTP.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/internal/repository"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
	"github.com/Sumudu01/NayanaPharma/pkg/httpclient"
)

// ProductSource is any catalog lookup.
type ProductSource interface {
	GetProduct(ctx context.Context, productID string) (*domain.CatalogItem, error)
}

// StoreCatalog reads metadata from the ledger's own products.
type StoreCatalog struct {
	products repository.ProductRepository
}

// NewStoreCatalog creates a store-backed catalog.
func NewStoreCatalog(products repository.ProductRepository) *StoreCatalog {
	return &StoreCatalog{products: products}
}

// GetProduct returns the product's catalog view.
func (c *StoreCatalog) GetProduct(ctx context.Context, productID string) (*domain.CatalogItem, error) {
	p, err := c.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	return domain.CatalogItemFromProduct(p), nil
}

type productDTO struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	SupplierID string          `json:"supplierId"`
	Status     string          `json:"status"`
}

// HTTPCatalog calls the product catalog service. When the service is
// unreachable or its breaker is open it falls back to another source.
type HTTPCatalog struct {
	client   httpclient.Doer
	baseURL  string
	fallback ProductSource
	logger   *slog.Logger
}

// NewHTTPCatalog creates an HTTP catalog. fallback may be nil.
func NewHTTPCatalog(client httpclient.Doer, baseURL string, fallback ProductSource, logger *slog.Logger) *HTTPCatalog {
	return &HTTPCatalog{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		fallback: fallback,
		logger:   logger,
	}
}

// GetProduct fetches GET {baseURL}/products/{id}.
func (c *HTTPCatalog) GetProduct(ctx context.Context, productID string) (*domain.CatalogItem, error) {
	item, err := c.fetch(ctx, productID)
	if err == nil {
		return item, nil
	}
	if c.fallback == nil || apperrors.IsDomain(err) {
		return nil, err
	}

	c.logger.WarnContext(ctx, "catalog unavailable, using local products",
		slog.String("product_id", productID),
		slog.String("error", err.Error()),
	)
	return c.fallback.GetProduct(ctx, productID)
}

func (c *HTTPCatalog) fetch(ctx context.Context, productID string) (*domain.CatalogItem, error) {
	reqURL := fmt.Sprintf("%s/products/%s", c.baseURL, url.PathEscape(productID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create catalog request: %w", err)
	}
	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call catalog: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, apperrors.NotFound("product", productID)
	}

	var dto productDTO
	if err := httpclient.DecodeJSON(resp, &dto, "catalog"); err != nil {
		return nil, err
	}
	if err := domain.ValidatePrice("price", dto.Price); err != nil {
		return nil, fmt.Errorf("catalog returned bad price for %s: %v", productID, err)
	}

	status := domain.ProductStatus(dto.Status)
	if !status.Valid() {
		status = domain.ProductAvailable
	}
	return &domain.CatalogItem{
		ID:         productID,
		Name:       dto.Name,
		UnitPrice:  dto.Price,
		SupplierID: dto.SupplierID,
		Status:     status,
	}, nil
}

// CustomerDirectory resolves customer ids.
type CustomerDirectory interface {
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)
}

// AcceptAllCustomers accepts any non-empty customer id. Used when no
// directory service is configured.
type AcceptAllCustomers struct{}

// GetCustomer implements CustomerDirectory.
func (AcceptAllCustomers) GetCustomer(_ context.Context, customerID string) (*domain.Customer, error) {
	if customerID == "" {
		return nil, apperrors.NotFound("customer", customerID)
	}
	return &domain.Customer{ID: customerID}, nil
}

type customerDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HTTPCustomerDirectory calls the customer directory service.
type HTTPCustomerDirectory struct {
	client  httpclient.Doer
	baseURL string
}

// NewHTTPCustomerDirectory creates an HTTP customer directory.
func NewHTTPCustomerDirectory(client httpclient.Doer, baseURL string) *HTTPCustomerDirectory {
	return &HTTPCustomerDirectory{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// GetCustomer fetches GET {baseURL}/customers/{id}. An unreachable directory
// is a persistence failure, never a silent accept.
func (d *HTTPCustomerDirectory) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	reqURL := fmt.Sprintf("%s/customers/%s", d.baseURL, url.PathEscape(customerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create customer request: %w", err)
	}
	resp, err := d.client.Do(ctx, req)
	if err != nil {
		return nil, apperrors.Unavailable(fmt.Errorf("call customer directory: %w", err))
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, apperrors.NotFound("customer", customerID)
	}

	var dto customerDTO
	if err := httpclient.DecodeJSON(resp, &dto, "customer-directory"); err != nil {
		if apperrors.IsDomain(err) || errors.Is(err, apperrors.ErrServiceUnavail) {
			return nil, err
		}
		return nil, apperrors.Unavailable(err)
	}
	return &domain.Customer{ID: customerID, Name: dto.Name}, nil
}
